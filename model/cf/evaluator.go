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

package cf

import (
	"context"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/lightrec-io/lightrec/base/copier"
	"github.com/lightrec-io/lightrec/common/floats"
	"github.com/lightrec-io/lightrec/common/heap"
	"github.com/lightrec-io/lightrec/common/parallel"
	"github.com/lightrec-io/lightrec/dataset"
	"github.com/samber/lo"
)

/* Evaluate Item Ranking */

// Metric is used by evaluators in personalized ranking tasks.
type Metric func(targetSet mapset.Set[int32], rankList []int32) float32

// Evaluate evaluates a model in personalized ranking tasks. Negative samples
// are drawn from items the user has no feedback on in either split.
func Evaluate(estimator MatrixFactorization, testSet, trainSet dataset.CFSplit, topK, numCandidates, nJobs int, scorers ...Metric) []float32 {
	partSum := make([][]float32, nJobs)
	partCount := make([]float32, nJobs)
	for i := 0; i < nJobs; i++ {
		partSum[i] = make([]float32, len(scorers))
	}
	negatives := testSet.NegativeSample(trainSet, numCandidates)
	// For all UserFeedback
	_ = parallel.Parallel(context.Background(), testSet.CountUsers(), nJobs, func(workerId, userIndex int) error {
		// Find top-n items in test set
		targetSet := mapset.NewSet(testSet.GetUserFeedback()[userIndex]...)
		if targetSet.Cardinality() > 0 {
			// Build candidates from positive items and negative samples
			negativeSample := negatives[userIndex]
			candidates := make([]int32, 0, targetSet.Cardinality()+len(negativeSample))
			candidates = append(candidates, testSet.GetUserFeedback()[userIndex]...)
			candidates = append(candidates, negativeSample...)
			// Find top-n items in predictions
			rankList, _ := Rank(estimator, int32(userIndex), candidates, topK)
			partCount[workerId]++
			for i, metric := range scorers {
				partSum[workerId][i] += metric(targetSet, rankList)
			}
		}
		return nil
	})
	sum := make([]float32, len(scorers))
	for i := 0; i < nJobs; i++ {
		floats.Add(sum, partSum[i])
	}
	count := floats.Sum(partCount)
	floats.MulConst(sum, 1/count)
	return sum
}

// EvaluateFull evaluates a model in personalized ranking tasks by ranking the
// full item catalog for each test user, with items seen in the train set
// removed from the candidates.
func EvaluateFull(estimator MatrixFactorization, testSet, trainSet dataset.CFSplit, topK, nJobs int, scorers ...Metric) []float32 {
	partSum := make([][]float32, nJobs)
	partCount := make([]float32, nJobs)
	for i := 0; i < nJobs; i++ {
		partSum[i] = make([]float32, len(scorers))
	}
	numItems := int32(trainSet.CountItems())
	_ = parallel.Parallel(context.Background(), testSet.CountUsers(), nJobs, func(workerId, userIndex int) error {
		targetSet := mapset.NewSet(testSet.GetUserFeedback()[userIndex]...)
		if targetSet.Cardinality() > 0 {
			seenSet := mapset.NewSet(trainSet.GetUserFeedback()[userIndex]...)
			candidates := make([]int32, 0, numItems)
			for itemIndex := int32(0); itemIndex < numItems; itemIndex++ {
				if !seenSet.Contains(itemIndex) {
					candidates = append(candidates, itemIndex)
				}
			}
			rankList, _ := Rank(estimator, int32(userIndex), candidates, topK)
			partCount[workerId]++
			for i, metric := range scorers {
				partSum[workerId][i] += metric(targetSet, rankList)
			}
		}
		return nil
	})
	sum := make([]float32, len(scorers))
	for i := 0; i < nJobs; i++ {
		floats.Add(sum, partSum[i])
	}
	count := floats.Sum(partCount)
	floats.MulConst(sum, 1/count)
	return sum
}

// NDCG means Normalized Discounted Cumulative Gain.
func NDCG(targetSet mapset.Set[int32], rankList []int32) float32 {
	// IDCG = \sum^{|REL|}_{i=1} \frac {1} {\log_2(i+1)}
	idcg := float32(0)
	for i := 0; i < min(targetSet.Cardinality(), len(rankList)); i++ {
		idcg += 1.0 / math32.Log2(float32(i)+2.0)
	}
	// DCG = \sum^{N}_{i=1} \frac {2^{rel_i}-1} {\log_2(i+1)}
	dcg := float32(0)
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			dcg += 1.0 / math32.Log2(float32(i)+2.0)
		}
	}
	return dcg / idcg
}

// Precision is the precision of the rank list.
//
//	Precision = \frac{|relevant documents| \cap |retrieved documents|}
//	                 {|{retrieved documents}|}
func Precision(targetSet mapset.Set[int32], rankList []int32) float32 {
	hit := float32(0)
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return hit / float32(len(rankList))
}

// Recall is the recall of the rank list.
//
//	Recall = \frac{|relevant documents| \cap |retrieved documents|}
//	              {|{relevant documents}|}
func Recall(targetSet mapset.Set[int32], rankList []int32) float32 {
	hit := float32(0)
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return hit / float32(targetSet.Cardinality())
}

// HR means Hit Ratio.
func HR(targetSet mapset.Set[int32], rankList []int32) float32 {
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			return 1
		}
	}
	return 0
}

// MAP means Mean Average Precision.
// mAP: http://sdsawtelle.github.io/blog/output/mean-average-precision-MAP-for-recommender-systems.html
func MAP(targetSet mapset.Set[int32], rankList []int32) float32 {
	sumPrecision := float32(0)
	hit := 0
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
			sumPrecision += float32(hit) / float32(i+1)
		}
	}
	return sumPrecision / float32(targetSet.Cardinality())
}

// MRR means Mean Reciprocal Rank.
//
// The mean reciprocal rank is a statistic measure for evaluating any process
// that produces a list of possible responses to a sample of queries, ordered
// by probability of correctness. The reciprocal rank of a query response is
// the multiplicative inverse of the rank of the first correct answer: 1 for
// first place, 1/2 for second place, 1/3 for third place and so on. The mean
// reciprocal rank is the average of the reciprocal ranks of results for a
// sample of queries Q:
//
//	MRR = \frac{1}{Q} \sum^{|Q|}_{i=1} \frac{1}{rank_i}
func MRR(targetSet mapset.Set[int32], rankList []int32) float32 {
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			return 1 / float32(i+1)
		}
	}
	return 0
}

// Rank gets the top-n list for a user with the given candidate items.
func Rank(model MatrixFactorization, userIndex int32, candidates []int32, topN int) ([]int32, []float32) {
	itemsHeap := heap.NewTopKFilter[int32, float32](topN)
	for _, itemIndex := range candidates {
		itemsHeap.Push(itemIndex, model.internalPredict(userIndex, itemIndex))
	}
	elems := itemsHeap.PopAll()
	recommends := make([]int32, len(elems))
	scores := make([]float32, len(elems))
	for i, elem := range elems {
		recommends[i] = elem.Value
		scores[i] = elem.Weight
	}
	return recommends, scores
}

// Recommendation is a scored user-item pair.
type Recommendation struct {
	UserId string
	ItemId string
	Score  float32
}

// RecommendAll generates top-k recommendations for every predictable user.
// Items seen in the train set and unpredictable items are removed from the
// candidates.
func RecommendAll(estimator MatrixFactorization, trainSet dataset.CFSplit, topK, nJobs int) []Recommendation {
	userDict := trainSet.GetUserDict()
	itemDict := trainSet.GetItemDict()
	numItems := int32(trainSet.CountItems())
	results := make([][]Recommendation, trainSet.CountUsers())
	_ = parallel.Parallel(context.Background(), trainSet.CountUsers(), nJobs, func(workerId, userIndex int) error {
		if !estimator.IsUserPredictable(int32(userIndex)) {
			return nil
		}
		seenSet := mapset.NewSet(trainSet.GetUserFeedback()[userIndex]...)
		candidates := make([]int32, 0, numItems)
		for itemIndex := int32(0); itemIndex < numItems; itemIndex++ {
			if !seenSet.Contains(itemIndex) && estimator.IsItemPredictable(itemIndex) {
				candidates = append(candidates, itemIndex)
			}
		}
		rankList, scores := Rank(estimator, int32(userIndex), candidates, topK)
		userId, _ := userDict.String(userIndex)
		recommendations := make([]Recommendation, 0, len(rankList))
		for i, itemIndex := range rankList {
			itemId, _ := itemDict.String(int(itemIndex))
			recommendations = append(recommendations, Recommendation{
				UserId: userId,
				ItemId: itemId,
				Score:  scores[i],
			})
		}
		results[userIndex] = recommendations
		return nil
	})
	return lo.Flatten(results)
}

// SnapshotManger manages the best snapshot.
type SnapshotManger struct {
	BestWeights []interface{}
	BestScore   Score
}

// AddSnapshot adds a copied snapshot.
func (sm *SnapshotManger) AddSnapshot(score Score, weights ...interface{}) {
	if sm.BestWeights == nil || score.NDCG > sm.BestScore.NDCG {
		sm.BestScore = score
		if err := copier.Copy(&sm.BestWeights, weights); err != nil {
			panic(err)
		}
	}
}
