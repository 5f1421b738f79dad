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
	"io"
	"time"

	"github.com/c-bata/goptuna"
	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/lightrec-io/lightrec/base"
	"github.com/lightrec-io/lightrec/base/log"
	"github.com/lightrec-io/lightrec/base/progress"
	"github.com/lightrec-io/lightrec/common/floats"
	"github.com/lightrec-io/lightrec/common/parallel"
	"github.com/lightrec-io/lightrec/dataset"
	"github.com/lightrec-io/lightrec/graph"
	"github.com/lightrec-io/lightrec/model"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// GraphBPR trains matrix factorization with the BPR pairwise loss and smooths
// the learned embeddings over the interaction graph. Candidate pairs are drawn
// uniformly from the edges of the graph, and at every evaluation round the raw
// factors are propagated through NLayers rounds of symmetric-normalized
// adjacency multiplication before scoring. The propagation itself carries no
// trainable weights. The factors kept after the final epoch are the propagated
// ones, so Predict and the exported embeddings see the smoothed space.
//
// Hyper-parameters:
//
//	 Reg 		- The regularization parameter of the cost function that is
//				  optimized. Default is 0.01.
//	 Lr 		- The learning rate of SGD. Default is 0.05.
//	 nFactors	- The number of latent factors. Default is 16.
//	 NEpochs	- The number of iteration of the SGD procedure. Default is 100.
//	 NLayers	- The number of propagation layers. Default is 3.
//	 InitMean	- The mean of initial random latent factors. Default is 0.
//	 InitStdDev	- The standard deviation of initial random latent factors. Default is 0.001.
type GraphBPR struct {
	BaseMatrixFactorization
	// Hyper parameters
	nFactors   int
	nEpochs    int
	nLayers    int
	lr         float32
	reg        float32
	initMean   float32
	initStdDev float32
}

// NewGraphBPR creates a GraphBPR model.
func NewGraphBPR(params model.Params) *GraphBPR {
	lgn := new(GraphBPR)
	lgn.SetParams(params)
	return lgn
}

// SetParams sets hyper-parameters of the GraphBPR model.
func (lgn *GraphBPR) SetParams(params model.Params) {
	lgn.BaseMatrixFactorization.SetParams(params)
	// Setup hyper-parameters
	lgn.nFactors = lgn.Params.GetInt(model.NFactors, 16)
	lgn.nEpochs = lgn.Params.GetInt(model.NEpochs, 100)
	lgn.nLayers = lgn.Params.GetInt(model.NLayers, 3)
	lgn.lr = lgn.Params.GetFloat32(model.Lr, 0.05)
	lgn.reg = lgn.Params.GetFloat32(model.Reg, 0.01)
	lgn.initMean = lgn.Params.GetFloat32(model.InitMean, 0)
	lgn.initStdDev = lgn.Params.GetFloat32(model.InitStdDev, 0.001)
}

func (lgn *GraphBPR) GetParamsGrid(withSize bool) model.ParamsGrid {
	return model.ParamsGrid{
		model.NFactors:   lo.If(withSize, []interface{}{8, 16, 32, 64}).Else([]interface{}{16}),
		model.NLayers:    []interface{}{1, 2, 3, 4},
		model.Lr:         []interface{}{0.001, 0.005, 0.01, 0.05, 0.1},
		model.Reg:        []interface{}{0.001, 0.005, 0.01, 0.05, 0.1},
		model.InitMean:   []interface{}{0},
		model.InitStdDev: []interface{}{0.001, 0.005, 0.01, 0.05, 0.1},
	}
}

func (lgn *GraphBPR) SuggestParams(trial goptuna.Trial) model.Params {
	return model.Params{
		model.NFactors:   lo.Must(trial.SuggestDiscreteFloat(string(model.NFactors), 8, 64, 8)),
		model.NLayers:    lo.Must(trial.SuggestInt(string(model.NLayers), 1, 4)),
		model.Lr:         lo.Must(trial.SuggestLogFloat(string(model.Lr), 0.001, 0.1)),
		model.Reg:        lo.Must(trial.SuggestLogFloat(string(model.Reg), 0.001, 0.1)),
		model.InitStdDev: lo.Must(trial.SuggestLogFloat(string(model.InitStdDev), 0.001, 0.1)),
	}
}

func (lgn *GraphBPR) Init(trainSet dataset.CFSplit) {
	// Initialize parameters
	newUserFactor := lgn.GetRandomGenerator().NormalMatrix(trainSet.CountUsers(), lgn.nFactors, lgn.initMean, lgn.initStdDev)
	newItemFactor := lgn.GetRandomGenerator().NormalMatrix(trainSet.CountItems(), lgn.nFactors, lgn.initMean, lgn.initStdDev)
	// Relocate parameters from the previous fit
	relocateFactors(lgn.UserIndex, trainSet.GetUserDict(), lgn.UserFactor, newUserFactor)
	relocateFactors(lgn.ItemIndex, trainSet.GetItemDict(), lgn.ItemFactor, newItemFactor)
	// Initialize base
	lgn.UserFactor = newUserFactor
	lgn.ItemFactor = newItemFactor
	lgn.BaseMatrixFactorization.Init(trainSet)
}

// Fit the GraphBPR model. Its task complexity is O(lgn.nEpochs).
func (lgn *GraphBPR) Fit(ctx context.Context, trainSet, valSet dataset.CFSplit, config *FitConfig) Score {
	config = config.LoadDefaultIfNil()
	log.Logger().Info("fit graph_bpr",
		zap.Int("train_set_size", trainSet.CountFeedback()),
		zap.Int("test_set_size", valSet.CountFeedback()),
		zap.Any("params", lgn.GetParams()),
		zap.Any("config", config))
	if trainSet.CountFeedback() == 0 {
		log.Logger().Warn("fit graph_bpr with empty train set")
		return Score{}
	}
	lgn.Init(trainSet)
	g := graph.NewGraph(trainSet)
	// Create buffers
	temp := base.NewMatrix32(config.Jobs, lgn.nFactors)
	userFactor := base.NewMatrix32(config.Jobs, lgn.nFactors)
	positiveItemFactor := base.NewMatrix32(config.Jobs, lgn.nFactors)
	negativeItemFactor := base.NewMatrix32(config.Jobs, lgn.nFactors)
	rng := make([]base.RandomGenerator, config.Jobs)
	for i := 0; i < config.Jobs; i++ {
		rng[i] = base.NewRandomGenerator(lgn.GetRandomGenerator().Int63())
	}
	snapshots := SnapshotManger{}
	evalStart := time.Now()
	scores := lgn.evaluateSmoothed(g, valSet, trainSet, config)
	evalTime := time.Since(evalStart)
	log.Logger().Debug(fmt.Sprintf("fit graph_bpr %v/%v", 0, lgn.nEpochs),
		zap.String("eval_time", evalTime.String()),
		zap.Float32(fmt.Sprintf("NDCG@%v", config.TopK), scores[0]),
		zap.Float32(fmt.Sprintf("Precision@%v", config.TopK), scores[1]),
		zap.Float32(fmt.Sprintf("Recall@%v", config.TopK), scores[2]))
	snapshots.AddSnapshot(Score{NDCG: scores[0], Precision: scores[1], Recall: scores[2]}, lgn.UserFactor, lgn.ItemFactor)
	// Training
	newCtx, span := progress.Start(ctx, "GraphBPR.Fit", lgn.nEpochs)
	for epoch := 1; epoch <= lgn.nEpochs; epoch++ {
		fitStart := time.Now()
		// Training epoch
		cost := make([]float32, config.Jobs)
		_ = parallel.Parallel(newCtx, g.CountEdges(), config.Jobs, func(workerId, _ int) error {
			// Select a positive pair
			userIndex, posIndex := g.SampleEdge(rng[workerId])
			// Select a negative sample
			negIndex := int32(-1)
			for {
				temp := rng[workerId].Int31n(int32(trainSet.CountItems()))
				if !g.HasEdge(userIndex, temp) {
					negIndex = temp
					break
				}
			}
			diff := lgn.internalPredict(userIndex, posIndex) - lgn.internalPredict(userIndex, negIndex)
			cost[workerId] += math32.Log1p(math32.Exp(-diff))
			grad := math32.Exp(-diff) / (1.0 + math32.Exp(-diff))
			// Pairwise update
			copy(userFactor[workerId], lgn.UserFactor[userIndex])
			copy(positiveItemFactor[workerId], lgn.ItemFactor[posIndex])
			copy(negativeItemFactor[workerId], lgn.ItemFactor[negIndex])
			// Update positive item latent factor: +w_u
			floats.MulConstTo(userFactor[workerId], grad, temp[workerId])
			floats.MulConstAdd(positiveItemFactor[workerId], -lgn.reg, temp[workerId])
			floats.MulConstAdd(temp[workerId], lgn.lr, lgn.ItemFactor[posIndex])
			// Update negative item latent factor: -w_u
			floats.MulConstTo(userFactor[workerId], -grad, temp[workerId])
			floats.MulConstAdd(negativeItemFactor[workerId], -lgn.reg, temp[workerId])
			floats.MulConstAdd(temp[workerId], lgn.lr, lgn.ItemFactor[negIndex])
			// Update user latent factor: h_i-h_j
			floats.SubTo(positiveItemFactor[workerId], negativeItemFactor[workerId], temp[workerId])
			floats.MulConst(temp[workerId], grad)
			floats.MulConstAdd(userFactor[workerId], -lgn.reg, temp[workerId])
			floats.MulConstAdd(temp[workerId], lgn.lr, lgn.UserFactor[userIndex])
			return nil
		})
		fitTime := time.Since(fitStart)
		// Cross validation
		if epoch%config.Verbose == 0 || epoch == lgn.nEpochs {
			evalStart = time.Now()
			scores = lgn.evaluateSmoothed(g, valSet, trainSet, config)
			evalTime = time.Since(evalStart)
			log.Logger().Info(fmt.Sprintf("fit graph_bpr %v/%v", epoch, lgn.nEpochs),
				zap.String("fit_time", fitTime.String()),
				zap.String("eval_time", evalTime.String()),
				zap.Float32("tr_cost", lo.Sum(cost)),
				zap.Float32(fmt.Sprintf("NDCG@%v", config.TopK), scores[0]),
				zap.Float32(fmt.Sprintf("Precision@%v", config.TopK), scores[1]),
				zap.Float32(fmt.Sprintf("Recall@%v", config.TopK), scores[2]))
			snapshots.AddSnapshot(Score{NDCG: scores[0], Precision: scores[1], Recall: scores[2]}, lgn.UserFactor, lgn.ItemFactor)
		}
		span.Add(1)
	}
	span.End()
	// Restore the best snapshot and keep the smoothed factors
	lgn.UserFactor = snapshots.BestWeights[0].([][]float32)
	lgn.ItemFactor = snapshots.BestWeights[1].([][]float32)
	lgn.UserFactor, lgn.ItemFactor = g.Propagate(lgn.UserFactor, lgn.ItemFactor, lgn.nLayers, config.Jobs)
	log.Logger().Info("fit graph_bpr complete",
		zap.Float32(fmt.Sprintf("NDCG@%v", config.TopK), snapshots.BestScore.NDCG),
		zap.Float32(fmt.Sprintf("Precision@%v", config.TopK), snapshots.BestScore.Precision),
		zap.Float32(fmt.Sprintf("Recall@%v", config.TopK), snapshots.BestScore.Recall))
	return snapshots.BestScore
}

// evaluateSmoothed scores the propagated factors and puts the raw ones back
// so SGD keeps updating the space it samples gradients in.
func (lgn *GraphBPR) evaluateSmoothed(g *graph.Graph, valSet, trainSet dataset.CFSplit, config *FitConfig) []float32 {
	rawUserFactor, rawItemFactor := lgn.UserFactor, lgn.ItemFactor
	lgn.UserFactor, lgn.ItemFactor = g.Propagate(rawUserFactor, rawItemFactor, lgn.nLayers, config.Jobs)
	scores := Evaluate(lgn, valSet, trainSet, config.TopK, config.Candidates, config.Jobs, NDCG, Precision, Recall)
	lgn.UserFactor, lgn.ItemFactor = rawUserFactor, rawItemFactor
	return scores
}

// Marshal model into byte stream.
func (lgn *GraphBPR) Marshal(w io.Writer) error {
	if err := lgn.BaseMatrixFactorization.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Unmarshal model from byte stream.
func (lgn *GraphBPR) Unmarshal(r io.Reader) error {
	if err := lgn.BaseMatrixFactorization.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	lgn.SetParams(lgn.Params)
	return nil
}
