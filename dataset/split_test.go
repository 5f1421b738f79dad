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
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newRatingsDataset(numUsers, numItems int) *Dataset {
	dataSet := NewDataset(time.Now(), numUsers, numItems)
	for i := 0; i < numUsers; i++ {
		dataSet.AddUser(strconv.Itoa(i))
	}
	for i := 0; i < numItems; i++ {
		dataSet.AddItem(strconv.Itoa(i))
	}
	for i := 0; i < numUsers; i++ {
		for j := 0; j < numItems; j++ {
			dataSet.AddRating(strconv.Itoa(i), strconv.Itoa(j), float32(j%5)+1, time.Unix(int64(j), 0))
		}
	}
	return dataSet
}

func TestSplitRatio(t *testing.T) {
	dataSet := newRatingsDataset(5, 4)
	trainSet, testSet, err := dataSet.SplitRatio(0.75, 0)
	assert.NoError(t, err)
	assert.Same(t, dataSet.GetUserDict(), trainSet.GetUserDict())
	assert.Same(t, dataSet.GetItemDict(), testSet.GetItemDict())
	assert.Equal(t, 15, trainSet.CountFeedback())
	assert.Equal(t, 5, testSet.CountFeedback())
	assert.ElementsMatch(t, dataSet.GetRatings(), append(trainSet.GetRatings(), testSet.GetRatings()...))

	_, _, err = dataSet.SplitRatio(0, 0)
	assert.Error(t, err)
	_, _, err = dataSet.SplitRatio(1, 0)
	assert.Error(t, err)
}

func TestSplitStratified(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0, 0)
	dataSet.AddUser("a")
	dataSet.AddUser("b")
	for i := 0; i < 4; i++ {
		dataSet.AddItem(strconv.Itoa(i))
	}
	for i := 0; i < 4; i++ {
		dataSet.AddRating("a", strconv.Itoa(i), 1, time.Unix(int64(i), 0))
	}
	dataSet.AddRating("b", "0", 1, time.Unix(0, 0))

	trainSet, testSet, err := dataSet.SplitStratified(0.75, 0)
	assert.NoError(t, err)
	// User "a" keeps ceil(0.75*4)=3 rows in the training set.
	assert.Len(t, trainSet.GetUserFeedback()[0], 3)
	assert.Len(t, testSet.GetUserFeedback()[0], 1)
	// A single rating never leaves the training set.
	assert.Len(t, trainSet.GetUserFeedback()[1], 1)
	assert.Empty(t, testSet.GetUserFeedback()[1])
	assert.ElementsMatch(t, dataSet.GetRatings(), append(trainSet.GetRatings(), testSet.GetRatings()...))

	_, _, err = dataSet.SplitStratified(1.5, 0)
	assert.Error(t, err)
}

func TestSplitLeaveOneOut(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0, 0)
	dataSet.AddUser("a")
	dataSet.AddUser("b")
	for _, itemId := range []string{"0", "1", "2"} {
		dataSet.AddItem(itemId)
	}
	dataSet.AddRating("a", "0", 1, time.Unix(100, 0))
	dataSet.AddRating("a", "1", 1, time.Unix(300, 0))
	dataSet.AddRating("a", "2", 1, time.Unix(200, 0))
	dataSet.AddRating("b", "0", 1, time.Unix(100, 0))
	dataSet.AddRating("b", "1", 1, time.Unix(100, 0))

	trainSet, testSet := dataSet.SplitLeaveOneOut(0, 0)
	// The most recent rating of each user moves to the test set, ties broken
	// by load order.
	assert.Equal(t, [][]int32{{1}, {1}}, testSet.GetUserFeedback())
	assert.Equal(t, [][]int32{{0, 2}, {0}}, trainSet.GetUserFeedback())
	assert.ElementsMatch(t, dataSet.GetRatings(), append(trainSet.GetRatings(), testSet.GetRatings()...))
}

func TestSplitLeaveOneOut_SampledUsers(t *testing.T) {
	dataSet := newRatingsDataset(10, 3)
	trainSet, testSet := dataSet.SplitLeaveOneOut(2, 0)
	assert.Equal(t, 2, testSet.CountFeedback())
	assert.Equal(t, dataSet.CountFeedback()-2, trainSet.CountFeedback())
	assert.ElementsMatch(t, dataSet.GetRatings(), append(trainSet.GetRatings(), testSet.GetRatings()...))
}
