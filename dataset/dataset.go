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
	"time"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/lightrec-io/lightrec/base"
	"github.com/samber/lo"
)

// CFSplit is the view of one side of a train/test split consumed by
// collaborative filtering trainers and evaluators.
type CFSplit interface {
	CountUsers() int
	CountItems() int
	CountFeedback() int
	GetUserDict() *FreqDict
	GetItemDict() *FreqDict
	GetUserFeedback() [][]int32
	GetItemFeedback() [][]int32
	NegativeSample(excludeSet CFSplit, numCandidates int) [][]int32
}

// Rating is one row of a ratings table.
type Rating struct {
	UserId    string
	ItemId    string
	Value     float32
	Timestamp time.Time
}

type Dataset struct {
	timestamp      time.Time
	userFeedback   [][]int32
	itemFeedback   [][]int32
	userRatings    [][]float32
	userTimestamps [][]time.Time
	negatives      [][]int32
	userDict       *FreqDict
	itemDict       *FreqDict
}

func NewDataset(timestamp time.Time, userCount, itemCount int) *Dataset {
	return &Dataset{
		timestamp:      timestamp,
		userFeedback:   make([][]int32, userCount),
		itemFeedback:   make([][]int32, itemCount),
		userRatings:    make([][]float32, userCount),
		userTimestamps: make([][]time.Time, userCount),
		userDict:       NewFreqDict(),
		itemDict:       NewFreqDict(),
	}
}

func (d *Dataset) GetTimestamp() time.Time {
	return d.timestamp
}

func (d *Dataset) CountUsers() int {
	return d.userDict.Count()
}

func (d *Dataset) CountItems() int {
	return d.itemDict.Count()
}

func (d *Dataset) CountFeedback() int {
	return lo.SumBy(d.userFeedback, func(feedback []int32) int {
		return len(feedback)
	})
}

func (d *Dataset) GetUserDict() *FreqDict {
	return d.userDict
}

func (d *Dataset) GetItemDict() *FreqDict {
	return d.itemDict
}

func (d *Dataset) GetUserFeedback() [][]int32 {
	return d.userFeedback
}

func (d *Dataset) GetItemFeedback() [][]int32 {
	return d.itemFeedback
}

// GetUserRatings returns per-user rating values aligned with GetUserFeedback.
func (d *Dataset) GetUserRatings() [][]float32 {
	return d.userRatings
}

// GetUserTimestamps returns per-user timestamps aligned with GetUserFeedback.
func (d *Dataset) GetUserTimestamps() [][]time.Time {
	return d.userTimestamps
}

// GetRatings materializes the ratings table, ordered by user id and then by
// insertion order within each user.
func (d *Dataset) GetRatings() []Rating {
	ratings := make([]Rating, 0, d.CountFeedback())
	for userIndex, feedback := range d.userFeedback {
		userId, ok := d.userDict.String(userIndex)
		if !ok {
			continue
		}
		for position, itemIndex := range feedback {
			itemId, _ := d.itemDict.String(int(itemIndex))
			ratings = append(ratings, Rating{
				UserId:    userId,
				ItemId:    itemId,
				Value:     d.userRatings[userIndex][position],
				Timestamp: d.userTimestamps[userIndex][position],
			})
		}
	}
	return ratings
}

// GetUserIDF returns the IDF of users.
//
//	IDF(u) = log(I/freq(u))
//
// I is the number of items.
// freq(u) is the frequency of user u in all feedback.
func (d *Dataset) GetUserIDF() []float32 {
	idf := make([]float32, d.userDict.Count())
	for i := 0; i < d.userDict.Count(); i++ {
		// Since zero IDF will cause NaN in the future, we set the minimum value to 1e-3.
		idf[i] = max(math32.Log(float32(d.CountItems())/float32(d.userDict.Freq(i))), 1e-3)
	}
	return idf
}

// GetItemIDF returns the IDF of items.
//
//	IDF(i) = log(U/freq(i))
//
// U is the number of users.
// freq(i) is the frequency of item i in all feedback.
func (d *Dataset) GetItemIDF() []float32 {
	idf := make([]float32, d.itemDict.Count())
	for i := 0; i < d.itemDict.Count(); i++ {
		// Since zero IDF will cause NaN in the future, we set the minimum value to 1e-3.
		idf[i] = max(math32.Log(float32(d.CountUsers())/float32(d.itemDict.Freq(i))), 1e-3)
	}
	return idf
}

func (d *Dataset) AddUser(userId string) {
	d.userDict.NotCount(userId)
	if len(d.userFeedback) < d.userDict.Count() {
		d.userFeedback = append(d.userFeedback, nil)
		d.userRatings = append(d.userRatings, nil)
		d.userTimestamps = append(d.userTimestamps, nil)
	}
}

func (d *Dataset) AddItem(itemId string) {
	d.itemDict.NotCount(itemId)
	if len(d.itemFeedback) < d.itemDict.Count() {
		d.itemFeedback = append(d.itemFeedback, nil)
	}
}

// AddRating appends a rating row, registering the user and the item if they
// are absent.
func (d *Dataset) AddRating(userId, itemId string, value float32, timestamp time.Time) {
	userIndex := d.userDict.Id(userId)
	itemIndex := d.itemDict.Id(itemId)
	if len(d.userFeedback) < d.userDict.Count() {
		d.userFeedback = append(d.userFeedback, nil)
		d.userRatings = append(d.userRatings, nil)
		d.userTimestamps = append(d.userTimestamps, nil)
	}
	if len(d.itemFeedback) < d.itemDict.Count() {
		d.itemFeedback = append(d.itemFeedback, nil)
	}
	d.userFeedback[userIndex] = append(d.userFeedback[userIndex], int32(itemIndex))
	d.itemFeedback[itemIndex] = append(d.itemFeedback[itemIndex], int32(userIndex))
	d.userRatings[userIndex] = append(d.userRatings[userIndex], value)
	d.userTimestamps[userIndex] = append(d.userTimestamps[userIndex], timestamp)
}

// NegativeSample returns numCandidates items per user outside both the user's
// own feedback and the feedback in excludeSet. Samples are generated once and
// cached.
func (d *Dataset) NegativeSample(excludeSet CFSplit, numCandidates int) [][]int32 {
	if len(d.negatives) == 0 {
		rng := base.NewRandomGenerator(0)
		d.negatives = make([][]int32, d.CountUsers())
		for userIndex := 0; userIndex < d.CountUsers(); userIndex++ {
			s1 := mapset.NewSet(d.GetUserFeedback()[userIndex]...)
			s2 := mapset.NewSet(excludeSet.GetUserFeedback()[userIndex]...)
			d.negatives[userIndex] = rng.SampleInt32(0, int32(d.CountItems()), numCandidates, s1, s2)
		}
	}
	return d.negatives
}
