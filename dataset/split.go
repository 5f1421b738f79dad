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
	"math"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/lightrec-io/lightrec/base"
)

// newSplitPair creates two empty datasets sharing this dataset's dictionaries
// so that internal indices agree across all three.
func (d *Dataset) newSplitPair() (*Dataset, *Dataset) {
	trainSet, testSet := new(Dataset), new(Dataset)
	trainSet.timestamp, testSet.timestamp = d.timestamp, d.timestamp
	trainSet.userDict, testSet.userDict = d.userDict, d.userDict
	trainSet.itemDict, testSet.itemDict = d.itemDict, d.itemDict
	trainSet.userFeedback, testSet.userFeedback = make([][]int32, d.CountUsers()), make([][]int32, d.CountUsers())
	trainSet.itemFeedback, testSet.itemFeedback = make([][]int32, d.CountItems()), make([][]int32, d.CountItems())
	trainSet.userRatings, testSet.userRatings = make([][]float32, d.CountUsers()), make([][]float32, d.CountUsers())
	trainSet.userTimestamps, testSet.userTimestamps = make([][]time.Time, d.CountUsers()), make([][]time.Time, d.CountUsers())
	return trainSet, testSet
}

// appendRating appends a row by internal indices, bypassing the dictionaries.
func (d *Dataset) appendRating(userIndex, itemIndex int32, value float32, timestamp time.Time) {
	d.userFeedback[userIndex] = append(d.userFeedback[userIndex], itemIndex)
	d.itemFeedback[itemIndex] = append(d.itemFeedback[itemIndex], userIndex)
	d.userRatings[userIndex] = append(d.userRatings[userIndex], value)
	d.userTimestamps[userIndex] = append(d.userTimestamps[userIndex], timestamp)
}

// SplitRatio splits ratings into a training set and a test set by a global
// random row split. ratio is the fraction of rows kept for training.
func (d *Dataset) SplitRatio(ratio float64, seed int64) (*Dataset, *Dataset, error) {
	if ratio <= 0 || ratio >= 1 {
		return nil, nil, errors.Errorf("split ratio %v out of range (0, 1)", ratio)
	}
	trainSet, testSet := d.newSplitPair()
	type rowRef struct {
		userIndex int32
		position  int
	}
	rows := make([]rowRef, 0, d.CountFeedback())
	for userIndex := range d.userFeedback {
		for position := range d.userFeedback[userIndex] {
			rows = append(rows, rowRef{int32(userIndex), position})
		}
	}
	rng := base.NewRandomGenerator(seed)
	rng.Shuffle(len(rows), func(i, j int) {
		rows[i], rows[j] = rows[j], rows[i]
	})
	numTrain := int(math.Ceil(ratio * float64(len(rows))))
	for i, row := range rows {
		target := trainSet
		if i >= numTrain {
			target = testSet
		}
		target.appendRating(row.userIndex, d.userFeedback[row.userIndex][row.position],
			d.userRatings[row.userIndex][row.position], d.userTimestamps[row.userIndex][row.position])
	}
	return trainSet, testSet, nil
}

// SplitStratified splits ratings per user: each user keeps ceil(ratio*n) of
// its n rows in the training set and the remainder in the test set, so the
// test set never contains a user absent from the training set.
func (d *Dataset) SplitStratified(ratio float64, seed int64) (*Dataset, *Dataset, error) {
	if ratio <= 0 || ratio >= 1 {
		return nil, nil, errors.Errorf("split ratio %v out of range (0, 1)", ratio)
	}
	trainSet, testSet := d.newSplitPair()
	rng := base.NewRandomGenerator(seed)
	for userIndex := range d.userFeedback {
		n := len(d.userFeedback[userIndex])
		numTrain := int(math.Ceil(ratio * float64(n)))
		for i, position := range rng.Perm(n) {
			target := trainSet
			if i >= numTrain {
				target = testSet
			}
			target.appendRating(int32(userIndex), d.userFeedback[userIndex][position],
				d.userRatings[userIndex][position], d.userTimestamps[userIndex][position])
		}
	}
	return trainSet, testSet, nil
}

// SplitLeaveOneOut moves each selected user's most recent rating to the test
// set, breaking timestamp ties by load order. If numTestUsers is non-positive
// or no less than the number of users, every user is selected.
func (d *Dataset) SplitLeaveOneOut(numTestUsers int, seed int64) (*Dataset, *Dataset) {
	trainSet, testSet := d.newSplitPair()
	rng := base.NewRandomGenerator(seed)
	leaveOut := func(userIndex int32) {
		feedback := d.userFeedback[userIndex]
		if len(feedback) == 0 {
			return
		}
		k := 0
		for position := range feedback {
			if !d.userTimestamps[userIndex][position].Before(d.userTimestamps[userIndex][k]) {
				k = position
			}
		}
		for position, itemIndex := range feedback {
			target := trainSet
			if position == k {
				target = testSet
			}
			target.appendRating(userIndex, itemIndex,
				d.userRatings[userIndex][position], d.userTimestamps[userIndex][position])
		}
	}
	if numTestUsers >= d.CountUsers() || numTestUsers <= 0 {
		for userIndex := int32(0); userIndex < int32(d.CountUsers()); userIndex++ {
			leaveOut(userIndex)
		}
	} else {
		testUsers := rng.SampleInt32(0, int32(d.CountUsers()), numTestUsers)
		for _, userIndex := range testUsers {
			leaveOut(userIndex)
		}
		testUserSet := mapset.NewSet(testUsers...)
		for userIndex := int32(0); userIndex < int32(d.CountUsers()); userIndex++ {
			if !testUserSet.Contains(userIndex) {
				for position, itemIndex := range d.userFeedback[userIndex] {
					trainSet.appendRating(userIndex, itemIndex,
						d.userRatings[userIndex][position], d.userTimestamps[userIndex][position])
				}
			}
		}
	}
	return trainSet, testSet
}
