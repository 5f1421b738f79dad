// Copyright 2025 lightrec Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lightrec-io/lightrec/common/expression"
	"github.com/stretchr/testify/assert"
)

func writeLines(t *testing.T, name string, lines ...string) string {
	path := filepath.Join(t.TempDir(), name)
	assert.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644))
	return path
}

func TestLoadMovieLens100K(t *testing.T) {
	path := writeLines(t, "u.data",
		"196\t242\t3\t881250949",
		"186\t302\t3\t891717742",
		"196\t377\t1\t878887116")
	dataSet, err := LoadMovieLens100K(path, nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, dataSet.CountUsers())
	assert.Equal(t, 3, dataSet.CountItems())
	assert.Equal(t, 3, dataSet.CountFeedback())
	assert.Equal(t, []Rating{
		{UserId: "196", ItemId: "242", Value: 3, Timestamp: time.Unix(881250949, 0)},
		{UserId: "196", ItemId: "377", Value: 1, Timestamp: time.Unix(878887116, 0)},
		{UserId: "186", ItemId: "302", Value: 3, Timestamp: time.Unix(891717742, 0)},
	}, dataSet.GetRatings())
}

func TestLoadMovieLens100K_Positive(t *testing.T) {
	path := writeLines(t, "u.data",
		"196\t242\t3\t881250949",
		"186\t302\t3\t891717742",
		"196\t377\t1\t878887116")
	positive := expression.MustParseRatingExpression("rating>=3")
	dataSet, err := LoadMovieLens100K(path, &positive)
	assert.NoError(t, err)
	assert.Equal(t, 2, dataSet.CountUsers())
	assert.Equal(t, 2, dataSet.CountItems())
	assert.Equal(t, []Rating{
		{UserId: "196", ItemId: "242", Value: 3, Timestamp: time.Unix(881250949, 0)},
		{UserId: "186", ItemId: "302", Value: 3, Timestamp: time.Unix(891717742, 0)},
	}, dataSet.GetRatings())
}

func TestLoadMovieLens100K_Malformed(t *testing.T) {
	_, err := LoadMovieLens100K(writeLines(t, "u.data", "196\t242"), nil)
	assert.ErrorContains(t, err, "196\t242")
	_, err = LoadMovieLens100K(writeLines(t, "u.data", "196\t242\tbad\t881250949"), nil)
	assert.Error(t, err)
	_, err = LoadMovieLens100K(writeLines(t, "u.data", "196\t242\t3\tbad"), nil)
	assert.Error(t, err)
}

func TestLoadMovieLens100K_Empty(t *testing.T) {
	dataSet, err := LoadMovieLens100K(writeLines(t, "u.data"), nil)
	assert.NoError(t, err)
	assert.Zero(t, dataSet.CountUsers())
	assert.Zero(t, dataSet.CountItems())
	assert.Zero(t, dataSet.CountFeedback())
}

func TestLoadMovieLens1M(t *testing.T) {
	path := writeLines(t, "ratings.dat",
		"1::1193::5::978300760",
		"1::661::3::978302109",
		"2::1193::4::978298413")
	dataSet, err := LoadMovieLens1M(path, nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, dataSet.CountUsers())
	assert.Equal(t, 2, dataSet.CountItems())
	assert.Equal(t, 3, dataSet.CountFeedback())
	assert.Equal(t, [][]int32{{0, 1}, {0}}, dataSet.GetUserFeedback())
}

func TestLoadCSV(t *testing.T) {
	path := writeLines(t, "ratings.csv",
		"user_id,item_id,rating,timestamp",
		"1,a,5,1000",
		"1,b,2,2000",
		"2,a,4,3000")
	positive := expression.MustParseRatingExpression("rating>=3")
	dataSet, err := LoadCSV(path, ",", true, &positive)
	assert.NoError(t, err)
	assert.Equal(t, 2, dataSet.CountUsers())
	assert.Equal(t, 1, dataSet.CountItems())
	assert.Equal(t, []Rating{
		{UserId: "1", ItemId: "a", Value: 5, Timestamp: time.Unix(1000, 0)},
		{UserId: "2", ItemId: "a", Value: 4, Timestamp: time.Unix(3000, 0)},
	}, dataSet.GetRatings())
}

func TestLoadCSV_Defaults(t *testing.T) {
	path := writeLines(t, "ratings.csv", "u1;i1", "u1;i2")
	dataSet, err := LoadCSV(path, ";", false, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, dataSet.CountUsers())
	assert.Equal(t, 2, dataSet.CountItems())
	assert.Equal(t, [][]float32{{1, 1}}, dataSet.GetUserRatings())
}

func TestLoadCSV_Quoted(t *testing.T) {
	path := writeLines(t, "ratings.csv", `"smith,j",a,5,1000`)
	dataSet, err := LoadCSV(path, ",", false, nil)
	assert.NoError(t, err)
	assert.Equal(t, []Rating{
		{UserId: "smith,j", ItemId: "a", Value: 5, Timestamp: time.Unix(1000, 0)},
	}, dataSet.GetRatings())
}

func TestLoadCSV_EmptySeparator(t *testing.T) {
	_, err := LoadCSV(writeLines(t, "ratings.csv", "1,a,5,1000"), "", false, nil)
	assert.Error(t, err)
}

func TestLoadCSV_EmptyId(t *testing.T) {
	_, err := LoadCSV(writeLines(t, "ratings.csv", ",a,5,1000"), ",", false, nil)
	assert.ErrorContains(t, err, "invalid user id")
	_, err = LoadCSV(writeLines(t, "ratings.csv", "1,,5,1000"), ",", false, nil)
	assert.ErrorContains(t, err, "invalid item id")
}

func TestParseTimestamp(t *testing.T) {
	timestamp, err := parseTimestamp("881250949")
	assert.NoError(t, err)
	assert.Equal(t, time.Unix(881250949, 0), timestamp)
	timestamp, err = parseTimestamp("2024-01-02T15:04:05Z")
	assert.NoError(t, err)
	assert.True(t, timestamp.Equal(time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)))
	_, err = parseTimestamp("never")
	assert.Error(t, err)
}
