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
	"fmt"
	"sort"
	"sync"

	"github.com/c-bata/goptuna"
	"github.com/juju/errors"
	"github.com/lightrec-io/lightrec/base"
	"github.com/lightrec-io/lightrec/base/log"
	"github.com/lightrec-io/lightrec/base/progress"
	"github.com/lightrec-io/lightrec/dataset"
	"github.com/lightrec-io/lightrec/model"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ParamsSearchResult contains the return of grid search.
type ParamsSearchResult struct {
	BestModel  MatrixFactorization
	BestScore  Score
	BestParams model.Params
	BestIndex  int
	Scores     []Score
	Params     []model.Params
}

func (r *ParamsSearchResult) AddScore(params model.Params, score Score) {
	r.Scores = append(r.Scores, score)
	r.Params = append(r.Params, params.Copy())
	if len(r.Scores) == 0 || score.NDCG > r.BestScore.NDCG {
		r.BestScore = score
		r.BestParams = params.Copy()
		r.BestIndex = len(r.Params) - 1
	}
}

// GridSearchCV finds the best parameters for a model.
func GridSearchCV(ctx context.Context, estimator MatrixFactorization, trainSet, testSet dataset.CFSplit, paramGrid model.ParamsGrid,
	_ int64, fitConfig *FitConfig) ParamsSearchResult {
	// Retrieve parameter names and length
	paramNames := make([]model.ParamName, 0, len(paramGrid))
	total := 1
	for paramName, values := range paramGrid {
		paramNames = append(paramNames, paramName)
		total *= len(values)
	}
	// Construct DFS procedure
	results := ParamsSearchResult{
		Scores: make([]Score, 0, total),
		Params: make([]model.Params, 0, total),
	}
	var dfs func(deep int, params model.Params)
	newCtx, span := progress.Start(ctx, "GridSearchCV", total)
	dfs = func(deep int, params model.Params) {
		if deep == len(paramNames) {
			log.Logger().Info(fmt.Sprintf("grid search (%v/%v)", span.Count(), total),
				zap.Any("params", params))
			// Cross validate
			estimator.Clear()
			estimator.SetParams(estimator.GetParams().Overwrite(params))
			score := estimator.Fit(newCtx, trainSet, testSet, fitConfig)
			// Create GridSearch result
			results.Scores = append(results.Scores, score)
			results.Params = append(results.Params, params.Copy())
			if len(results.Scores) == 0 || score.NDCG > results.BestScore.NDCG {
				results.BestModel = Clone(estimator)
				results.BestScore = score
				results.BestParams = params.Copy()
				results.BestIndex = len(results.Params) - 1
			}
			span.Add(1)
		} else {
			paramName := paramNames[deep]
			values := paramGrid[paramName]
			for _, val := range values {
				params[paramName] = val
				dfs(deep+1, params)
			}
		}
	}
	params := make(map[model.ParamName]interface{})
	dfs(0, params)
	span.End()
	return results
}

// RandomSearchCV searches hyper-parameters by random.
func RandomSearchCV(ctx context.Context, estimator MatrixFactorization, trainSet, testSet dataset.CFSplit, paramGrid model.ParamsGrid,
	numTrials int, seed int64, fitConfig *FitConfig) ParamsSearchResult {
	// if the number of combination is less than number of trials, use grid search
	if paramGrid.NumCombinations() < numTrials {
		return GridSearchCV(ctx, estimator, trainSet, testSet, paramGrid, seed, fitConfig)
	}
	rng := base.NewRandomGenerator(seed)
	results := ParamsSearchResult{
		Scores: make([]Score, 0, numTrials),
		Params: make([]model.Params, 0, numTrials),
	}
	newCtx, span := progress.Start(ctx, "RandomSearchCV", numTrials)
	for i := 1; i <= numTrials; i++ {
		// Make parameters
		params := model.Params{}
		for paramName, values := range paramGrid {
			value := values[rng.Intn(len(values))]
			params[paramName] = value
		}
		// Cross validate
		log.Logger().Info(fmt.Sprintf("random search (%v/%v)", i, numTrials),
			zap.Any("params", params))
		estimator.Clear()
		estimator.SetParams(estimator.GetParams().Overwrite(params))
		score := estimator.Fit(newCtx, trainSet, testSet, fitConfig)
		results.Scores = append(results.Scores, score)
		results.Params = append(results.Params, params.Copy())
		if len(results.Scores) == 0 || score.NDCG > results.BestScore.NDCG {
			results.BestModel = Clone(estimator)
			results.BestScore = score
			results.BestParams = params.Copy()
			results.BestIndex = len(results.Params) - 1
		}
		span.Add(1)
	}
	span.End()
	return results
}

// ModelCreator creates a fresh model for a search trial.
type ModelCreator func() MatrixFactorization

// ModelSearchResult is the best trial found by a model search.
type ModelSearchResult struct {
	Type   string
	Params model.Params
	Score  Score
}

// ModelSearch is a thread-safe hyper-parameter search over multiple model
// types, driven by a goptuna study.
type ModelSearch struct {
	creators map[string]ModelCreator
	trainSet dataset.CFSplit
	testSet  dataset.CFSplit
	config   *FitConfig

	mu     sync.Mutex
	result ModelSearchResult
}

// NewModelSearch creates a model search over the given model creators.
func NewModelSearch(creators map[string]ModelCreator, trainSet, testSet dataset.CFSplit, config *FitConfig) *ModelSearch {
	return &ModelSearch{
		creators: creators,
		trainSet: trainSet,
		testSet:  testSet,
		config:   config,
	}
}

// Objective evaluates a single trial. The model type is suggested first, then
// the hyper-parameters of the chosen model.
func (s *ModelSearch) Objective(trial goptuna.Trial) (float64, error) {
	names := lo.Keys(s.creators)
	sort.Strings(names)
	name, err := trial.SuggestCategorical("model", names)
	if err != nil {
		return 0, errors.Trace(err)
	}
	m := s.creators[name]()
	params := m.SuggestParams(trial)
	m.SetParams(m.GetParams().Overwrite(params))
	score := m.Fit(context.Background(), s.trainSet, s.testSet, s.config)
	log.Logger().Info("model search",
		zap.String("model", name),
		zap.Any("params", params),
		zap.Float32("NDCG", score.NDCG))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result.Type == "" || score.NDCG > s.result.Score.NDCG {
		s.result = ModelSearchResult{
			Type:   name,
			Params: params,
			Score:  score,
		}
	}
	return float64(score.NDCG), nil
}

// Result returns the best trial so far.
func (s *ModelSearch) Result() ModelSearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}
