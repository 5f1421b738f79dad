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

package main

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/lightrec-io/lightrec/base/log"
	"github.com/lightrec-io/lightrec/dataset"
	"github.com/lightrec-io/lightrec/model/cf"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCommand.AddCommand(tuneCommand)
	addDataFlags(tuneCommand)
	tuneCommand.PersistentFlags().Int("verbose", 10, "Verbose period")
	tuneCommand.PersistentFlags().IntP("jobs", "j", runtime.NumCPU(), "Number of jobs for model fitting")
	tuneCommand.PersistentFlags().Int("top-k", 10, "Length of recommendation list")
	tuneCommand.PersistentFlags().Int("n-negatives", 100, "Number of negative samples in sampled evaluation")
	tuneCommand.PersistentFlags().Int("n-trials", 10, "Number of search trials")
	tuneCommand.PersistentFlags().Bool("grid", false, "search the full grid instead of random trials")
	tuneCommand.PersistentFlags().Bool("tpe", false, "search by the tree-structured Parzen estimator")
	for _, flag := range cfParamFlags {
		tuneCommand.PersistentFlags().String(flag.Name, "", flag.Help)
	}
}

var tuneCommand = &cobra.Command{
	Use:   "tune MODEL",
	Short: "Tune a collaborative filtering model",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		modelName := args[0]
		m, err := cf.NewModel(modelName, nil)
		if err != nil {
			log.Logger().Fatal("failed to create model",
				zap.String("name", modelName), zap.Error(err))
		}
		trainSet, testSet := loadSplit(cmd)
		fitConfig := loadFitConfig(cmd)
		numTrials, _ := cmd.PersistentFlags().GetInt("n-trials")
		seed, _ := cmd.PersistentFlags().GetInt64("random-state")
		if tpeMode, _ := cmd.PersistentFlags().GetBool("tpe"); tpeMode {
			tuneTPE(modelName, trainSet, testSet, fitConfig, numTrials)
			return
		}
		// Search the grid built from param flags, filled from the default grid.
		grid := parseParamFlags(cmd)
		grid.Fill(m.GetParamsGrid(true))
		log.Logger().Info("tune hyper-parameters", zap.Any("grid", grid))
		start := time.Now()
		var result cf.ParamsSearchResult
		if gridMode, _ := cmd.PersistentFlags().GetBool("grid"); gridMode {
			result = cf.GridSearchCV(context.Background(), m, trainSet, testSet, grid, seed, fitConfig)
		} else {
			result = cf.RandomSearchCV(context.Background(), m, trainSet, testSet, grid, numTrials, seed, fitConfig)
		}
		elapsed := time.Since(start)
		// Render table ordered by score
		order := make([]int, len(result.Scores))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool {
			return result.Scores[order[i]].NDCG > result.Scores[order[j]].NDCG
		})
		renderResult(&result, fitConfig.TopK, order)
		log.Logger().Info("complete tune",
			zap.String("time", elapsed.String()),
			zap.Any("best_params", result.BestParams),
			zap.Float32("best_ndcg", result.BestScore.NDCG))
	},
}

func tuneTPE(modelName string, trainSet, testSet *dataset.Dataset, fitConfig *cf.FitConfig, numTrials int) {
	search := cf.NewModelSearch(map[string]cf.ModelCreator{
		modelName: func() cf.MatrixFactorization {
			m, err := cf.NewModel(modelName, nil)
			if err != nil {
				log.Logger().Fatal("failed to create model",
					zap.String("name", modelName), zap.Error(err))
			}
			return m
		},
	}, trainSet, testSet, fitConfig)
	study, err := goptuna.CreateStudy("lightrec",
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionSampler(tpe.NewSampler()))
	if err != nil {
		log.Logger().Fatal("failed to create study", zap.Error(err))
	}
	start := time.Now()
	if err = study.Optimize(search.Objective, numTrials); err != nil {
		log.Logger().Fatal("failed to optimize study", zap.Error(err))
	}
	result := search.Result()
	var table cf.ParamsSearchResult
	table.AddScore(result.Params, result.Score)
	renderResult(&table, fitConfig.TopK, nil)
	log.Logger().Info("complete tune",
		zap.String("time", time.Since(start).String()),
		zap.String("model", result.Type),
		zap.Any("best_params", result.Params),
		zap.Float32("best_ndcg", result.Score.NDCG))
}
