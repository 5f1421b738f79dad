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
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/juju/errors"
	"github.com/lightrec-io/lightrec/base"
	"github.com/lightrec-io/lightrec/common/expression"
	"github.com/lightrec-io/lightrec/common/util"
	"modernc.org/strutil"
)

// ratingColumn is the column name rating expressions are matched against.
const ratingColumn = "rating"

// LoadMovieLens100K loads the tab separated u.data layout: user id, item id,
// rating (1-5) and unix timestamp. Rows not matching the positive expression
// are dropped.
func LoadMovieLens100K(path string, positive *expression.RatingExpression) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return ReadMovieLens100K(file, positive)
}

func ReadMovieLens100K(r io.Reader, positive *expression.RatingExpression) (*Dataset, error) {
	return readRatings(r, "\t", positive)
}

// LoadMovieLens1M loads the "::" separated ratings.dat layout.
func LoadMovieLens1M(path string, positive *expression.RatingExpression) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return ReadMovieLens1M(file, positive)
}

func ReadMovieLens1M(r io.Reader, positive *expression.RatingExpression) (*Dataset, error) {
	return readRatings(r, "::", positive)
}

func readRatings(r io.Reader, sep string, positive *expression.RatingExpression) (*Dataset, error) {
	dataset := NewDataset(time.Now(), 0, 0)
	pool := strutil.NewPool()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, sep)
		if len(fields) < 4 {
			return nil, errors.Errorf("invalid line: %v", line)
		}
		rating, err := util.ParseUInt[uint8](fields[2])
		if err != nil {
			return nil, errors.Annotatef(err, "invalid line: %v", line)
		}
		epoch, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, errors.Annotatef(err, "invalid line: %v", line)
		}
		if positive != nil && !positive.Match(ratingColumn, float64(rating)) {
			continue
		}
		// Field strings share the line's backing array. Align detaches them
		// before they are retained by the dictionaries.
		userId, itemId := pool.Align(fields[0]), pool.Align(fields[1])
		dataset.AddUser(userId)
		dataset.AddItem(itemId)
		dataset.AddRating(userId, itemId, float32(rating), time.Unix(epoch, 0))
	}
	return dataset, scanner.Err()
}

// LoadCSV loads a generic ratings table. Each row holds a user id, an item id,
// an optional rating value (default 1) and an optional timestamp, either a
// unix epoch or any parseable date format. Rows not matching the positive
// expression are dropped.
func LoadCSV(path, sep string, hasHeader bool, positive *expression.RatingExpression) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return ReadCSV(file, sep, hasHeader, positive)
}

func ReadCSV(r io.Reader, sep string, hasHeader bool, positive *expression.RatingExpression) (*Dataset, error) {
	if utf8.RuneCountInString(sep) != 1 {
		return nil, errors.Errorf("field separator must be a single character: %q", sep)
	}
	dataset := NewDataset(time.Now(), 0, 0)
	pool := strutil.NewPool()
	var rowErr error
	err := base.ReadLines(bufio.NewScanner(r), sep, func(lineNumber int, fields []string) bool {
		if hasHeader && lineNumber == 0 {
			return true
		}
		if len(fields) == 1 && fields[0] == "" {
			return true
		}
		if len(fields) < 2 {
			rowErr = errors.Errorf("invalid line %d: %v", lineNumber, fields)
			return false
		}
		if rowErr = base.ValidateId(fields[0]); rowErr != nil {
			rowErr = errors.Annotatef(rowErr, "invalid user id at line %d", lineNumber)
			return false
		}
		if rowErr = base.ValidateId(fields[1]); rowErr != nil {
			rowErr = errors.Annotatef(rowErr, "invalid item id at line %d", lineNumber)
			return false
		}
		value := float32(1)
		if len(fields) > 2 && fields[2] != "" {
			if value, rowErr = util.ParseFloat[float32](fields[2]); rowErr != nil {
				rowErr = errors.Annotatef(rowErr, "invalid rating at line %d", lineNumber)
				return false
			}
		}
		var timestamp time.Time
		if len(fields) > 3 && fields[3] != "" {
			if timestamp, rowErr = parseTimestamp(fields[3]); rowErr != nil {
				rowErr = errors.Annotatef(rowErr, "invalid timestamp at line %d", lineNumber)
				return false
			}
		}
		if positive != nil && !positive.Match(ratingColumn, float64(value)) {
			return true
		}
		userId, itemId := pool.Align(fields[0]), pool.Align(fields[1])
		dataset.AddUser(userId)
		dataset.AddItem(itemId)
		dataset.AddRating(userId, itemId, value, timestamp)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return dataset, errors.Trace(err)
}

func parseTimestamp(s string) (time.Time, error) {
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(epoch, 0), nil
	}
	return dateparse.ParseAny(s)
}
