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
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/lightrec-io/lightrec/base/log"
	"github.com/lightrec-io/lightrec/config"
	"github.com/lightrec-io/lightrec/dataset"
	"github.com/lightrec-io/lightrec/logics"
	"github.com/lightrec-io/lightrec/model/cf"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCommand.AddCommand(fitCommand)
}

var fitCommand = &cobra.Command{
	Use:   "fit",
	Short: "Train a model from a configuration file and export the results",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		log.Logger().Info("load config", zap.String("config", configPath))
		conf, err := config.LoadConfig(configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		if err = runFit(conf); err != nil {
			log.Logger().Fatal("failed to run pipeline", zap.Error(err))
		}
	},
}

func runFit(conf *config.Config) error {
	// Load ratings
	data, err := loadDataset(&conf.Data)
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("load dataset",
		zap.String("path", conf.Data.Path),
		zap.Int("n_users", data.CountUsers()),
		zap.Int("n_items", data.CountItems()),
		zap.Int("n_feedback", data.CountFeedback()))

	// Split
	trainSet, testSet, err := conf.Data.Split.Split(data)
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("split dataset",
		zap.String("kind", conf.Data.Split.Kind),
		zap.Int("n_train", trainSet.CountFeedback()),
		zap.Int("n_test", testSet.CountFeedback()))

	// Fit model
	m, err := cf.NewModel(conf.Model.Name, conf.ModelParams())
	if err != nil {
		return errors.Trace(err)
	}
	start := time.Now()
	m.Fit(context.Background(), trainSet, testSet, conf.FitConfig())
	log.Logger().Info("complete fit",
		zap.String("model", conf.Model.Name),
		zap.String("time", time.Since(start).String()))

	// Evaluate with the configured metrics
	var scores []float32
	scorers := conf.Eval.Scorers()
	if conf.Eval.FullRanking {
		scores = cf.EvaluateFull(m, testSet, trainSet, conf.Eval.TopK, conf.Train.Jobs, scorers...)
	} else {
		scores = cf.Evaluate(m, testSet, trainSet, conf.Eval.TopK, conf.Train.Candidates, conf.Train.Jobs, scorers...)
	}
	table := tablewriter.NewTable(os.Stdout)
	table.Header(conf.Eval.Labels())
	row := make([]string, len(scores))
	for i, score := range scores {
		row[i] = fmt.Sprintf("%v", score)
	}
	if err = table.Append(row); err != nil {
		return errors.Trace(err)
	}
	if err = table.Render(); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(exportOutputs(conf, m, trainSet))
}

// loadDataset reads the configured ratings table behind a byte progress bar.
func loadDataset(conf *config.DataConfig) (*dataset.Dataset, error) {
	file, err := os.Open(conf.Path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return nil, errors.Trace(err)
	}
	pbReader := progressbar.NewReader(file, progressbar.DefaultBytes(
		stat.Size(),
		"Loading ratings",
	))
	positive := &conf.Positive
	if conf.Positive.Column == "" {
		positive = nil
	}
	switch conf.Format {
	case "ml-100k":
		return dataset.ReadMovieLens100K(&pbReader, positive)
	case "ml-1m":
		return dataset.ReadMovieLens1M(&pbReader, positive)
	case "csv":
		return dataset.ReadCSV(&pbReader, conf.Separator, conf.Header, positive)
	}
	return nil, errors.Errorf("unknown data format %v", conf.Format)
}

func exportOutputs(conf *config.Config, m cf.MatrixFactorization, trainSet *dataset.Dataset) error {
	if path := conf.Output.UserEmbeddings; path != "" {
		if err := writeFile(path, func(w io.Writer) error {
			return cf.SaveUserEmbeddings(w, m)
		}); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("export user embeddings", zap.String("path", path))
	}
	if path := conf.Output.ItemEmbeddings; path != "" {
		if err := writeFile(path, func(w io.Writer) error {
			return cf.SaveItemEmbeddings(w, m)
		}); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("export item embeddings", zap.String("path", path))
	}
	if path := conf.Output.Recommendations; path != "" {
		recommendations := cf.RecommendAll(m, trainSet, conf.Train.TopK, conf.Train.Jobs)
		if err := writeFile(path, func(w io.Writer) error {
			return cf.SaveRecommendations(w, recommendations)
		}); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("export recommendations",
			zap.String("path", path),
			zap.Int("n_rows", len(recommendations)))
	}
	if path := conf.Output.Neighbors; path != "" {
		neighbors, err := logics.NewItemToItem(m, conf.Train.Jobs).Neighbors(conf.Train.TopK)
		if err != nil {
			return errors.Trace(err)
		}
		if err = writeFile(path, func(w io.Writer) error {
			return logics.SaveNeighbors(w, neighbors)
		}); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("export item neighbors",
			zap.String("path", path),
			zap.Int("n_rows", len(neighbors)))
	}
	return nil
}

func writeFile(path string, save func(w io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	return save(file)
}
