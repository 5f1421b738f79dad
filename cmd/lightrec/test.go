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
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/lightrec-io/lightrec/base/log"
	"github.com/lightrec-io/lightrec/common/expression"
	"github.com/lightrec-io/lightrec/dataset"
	"github.com/lightrec-io/lightrec/model"
	"github.com/lightrec-io/lightrec/model/cf"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCommand.AddCommand(testCommand)
	addDataFlags(testCommand)
	testCommand.PersistentFlags().Int("verbose", 10, "Verbose period")
	testCommand.PersistentFlags().IntP("jobs", "j", runtime.NumCPU(), "Number of jobs for model fitting")
	testCommand.PersistentFlags().Int("top-k", 10, "Length of recommendation list")
	testCommand.PersistentFlags().Int("n-negatives", 100, "Number of negative samples in sampled evaluation")
	testCommand.PersistentFlags().Bool("full", false, "rank the full catalog instead of sampled candidates")
	for _, flag := range cfParamFlags {
		testCommand.PersistentFlags().String(flag.Name, "", flag.Help)
	}
}

func addDataFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("load-csv", "", "load data from CSV file")
	cmd.PersistentFlags().String("load-ml-100k", "", "load data from MovieLens 100K ratings file")
	cmd.PersistentFlags().String("load-ml-1m", "", "load data from MovieLens 1M ratings file")
	cmd.PersistentFlags().String("csv-sep", "\t", "load CSV file with separator")
	cmd.PersistentFlags().Bool("csv-header", false, "load CSV file with header")
	cmd.PersistentFlags().String("positive", "", "keep rows matching a rating expression (e.g. rating>=3)")
	cmd.PersistentFlags().Int("n-test-users", 0, "number of users for the test set")
	cmd.PersistentFlags().Int64("random-state", 0, "random seed for the split")
}

// loadSplit reads the dataset named by the data flags and splits it by
// leave-one-out.
func loadSplit(cmd *cobra.Command) (*dataset.Dataset, *dataset.Dataset) {
	flags := cmd.PersistentFlags()
	var positive *expression.RatingExpression
	if text, _ := flags.GetString("positive"); text != "" {
		var expr expression.RatingExpression
		if err := expr.FromString(text); err != nil {
			log.Logger().Fatal("failed to parse positive expression", zap.Error(err))
		}
		positive = &expr
	}
	var data *dataset.Dataset
	var err error
	switch {
	case flags.Changed("load-ml-100k"):
		path, _ := flags.GetString("load-ml-100k")
		log.Logger().Info("load MovieLens 100K file", zap.String("path", path))
		data, err = dataset.LoadMovieLens100K(path, positive)
	case flags.Changed("load-ml-1m"):
		path, _ := flags.GetString("load-ml-1m")
		log.Logger().Info("load MovieLens 1M file", zap.String("path", path))
		data, err = dataset.LoadMovieLens1M(path, positive)
	case flags.Changed("load-csv"):
		path, _ := flags.GetString("load-csv")
		sep, _ := flags.GetString("csv-sep")
		header, _ := flags.GetBool("csv-header")
		log.Logger().Info("load csv file", zap.String("path", path))
		data, err = dataset.LoadCSV(path, sep, header, positive)
	default:
		log.Logger().Fatal("no dataset specified")
	}
	if err != nil {
		log.Logger().Fatal("failed to load dataset", zap.Error(err))
	}
	log.Logger().Info("load dataset",
		zap.Int("n_users", data.CountUsers()),
		zap.Int("n_items", data.CountItems()),
		zap.Int("n_feedback", data.CountFeedback()))
	numTestUsers, _ := flags.GetInt("n-test-users")
	seed, _ := flags.GetInt64("random-state")
	trainSet, testSet := data.SplitLeaveOneOut(numTestUsers, seed)
	log.Logger().Info("split dataset",
		zap.Int("n_train", trainSet.CountFeedback()),
		zap.Int("n_test", testSet.CountFeedback()))
	return trainSet, testSet
}

func loadFitConfig(cmd *cobra.Command) *cf.FitConfig {
	fitConfig := cf.NewFitConfig()
	fitConfig.Verbose, _ = cmd.PersistentFlags().GetInt("verbose")
	fitConfig.Jobs, _ = cmd.PersistentFlags().GetInt("jobs")
	fitConfig.TopK, _ = cmd.PersistentFlags().GetInt("top-k")
	fitConfig.Candidates, _ = cmd.PersistentFlags().GetInt("n-negatives")
	return fitConfig
}

/* Flags for hyper-parameters */

const (
	intFlag     = 0
	float64Flag = 1
)

type paramFlag struct {
	Type int
	Key  model.ParamName
	Name string
	Help string
}

var cfParamFlags = []paramFlag{
	{float64Flag, model.Lr, "lr", "Learning rate"},
	{float64Flag, model.Reg, "reg", "Regularization strength"},
	{intFlag, model.NEpochs, "n-epochs", "Number of epochs"},
	{intFlag, model.NFactors, "n-factors", "Number of factors"},
	{intFlag, model.NLayers, "n-layers", "Number of propagation layers"},
	{float64Flag, model.InitMean, "init-mean", "Mean of gaussian initial parameters"},
	{float64Flag, model.InitStdDev, "init-std", "Standard deviation of gaussian initial parameters"},
	{float64Flag, model.Alpha, "neg-weight", "Weight of negative samples in ALS"},
}

func parseParamFlags(cmd *cobra.Command) model.ParamsGrid {
	grid := make(model.ParamsGrid)
	for _, flag := range cfParamFlags {
		if cmd.PersistentFlags().Changed(flag.Name) {
			text, err := cmd.PersistentFlags().GetString(flag.Name)
			if err != nil {
				log.Logger().Fatal("failed to get arguments", zap.Error(err))
			}
			grid[flag.Key] = parseParamList(text, flag.Type)
		}
	}
	return grid
}

func parseParamList(text string, tp int) []interface{} {
	if text == "" {
		log.Logger().Fatal("empty string for param list")
	}
	if text[0] == '[' && text[len(text)-1] == ']' {
		text = text[1 : len(text)-1]
	}
	paramTexts := strings.Split(text, ",")
	params := make([]interface{}, len(paramTexts))
	for i, paramText := range paramTexts {
		params[i] = parseParam(paramText, tp)
	}
	return params
}

func parseParam(text string, tp int) interface{} {
	switch tp {
	case intFlag:
		i, err := strconv.Atoi(text)
		if err != nil {
			log.Logger().Fatal("failed to parse param", zap.Error(err))
		}
		return i
	case float64Flag:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			log.Logger().Fatal("failed to parse param", zap.Error(err))
		}
		return f
	default:
		log.Logger().Fatal("unknown parameter type", zap.Int("type", tp))
		return nil
	}
}

// renderResult prints one table row per trial. A nil order renders trials in
// their natural order.
func renderResult(result *cf.ParamsSearchResult, topK int, order []int) {
	if order == nil {
		order = make([]int, len(result.Params))
		for i := range order {
			order[i] = i
		}
	}
	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{
		"#",
		fmt.Sprintf("NDCG@%d", topK),
		fmt.Sprintf("Precision@%d", topK),
		fmt.Sprintf("Recall@%d", topK),
		"Params",
	})
	for _, i := range order {
		score := result.Scores[i]
		if err := table.Append([]string{
			strconv.Itoa(i),
			fmt.Sprintf("%v", score.NDCG),
			fmt.Sprintf("%v", score.Precision),
			fmt.Sprintf("%v", score.Recall),
			result.Params[i].ToString(),
		}); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	}
	if err := table.Render(); err != nil {
		log.Logger().Fatal("failed to render table", zap.Error(err))
	}
}

var testCommand = &cobra.Command{
	Use:   "test MODEL",
	Short: "Test a collaborative filtering model",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		modelName := args[0]
		m, err := cf.NewModel(modelName, nil)
		if err != nil {
			log.Logger().Fatal("failed to create model",
				zap.String("name", modelName), zap.Error(err))
		}
		trainSet, testSet := loadSplit(cmd)
		// Load hyper-parameters
		grid := parseParamFlags(cmd)
		log.Logger().Info("load hyper-parameters grid", zap.Any("grid", grid))
		// Load runtime options
		fitConfig := loadFitConfig(cmd)
		// Cross validation
		start := time.Now()
		var result cf.ParamsSearchResult
		if grid.Len() == 0 {
			score := m.Fit(context.Background(), trainSet, testSet, fitConfig)
			if full, _ := cmd.PersistentFlags().GetBool("full"); full {
				values := cf.EvaluateFull(m, testSet, trainSet, fitConfig.TopK, fitConfig.Jobs,
					cf.NDCG, cf.Precision, cf.Recall)
				score = cf.Score{NDCG: values[0], Precision: values[1], Recall: values[2]}
			}
			result.AddScore(nil, score)
		} else {
			result = cf.GridSearchCV(context.Background(), m, trainSet, testSet, grid, 0, fitConfig)
		}
		elapsed := time.Since(start)
		// Render table
		renderResult(&result, fitConfig.TopK, nil)
		log.Logger().Info("complete cross validation", zap.String("time", elapsed.String()))
	},
}
