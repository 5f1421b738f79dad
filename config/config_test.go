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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lightrec-io/lightrec/common/expression"
	"github.com/lightrec-io/lightrec/dataset"
	"github.com/lightrec-io/lightrec/model"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig("config.yaml.template")
	assert.NoError(t, err)

	// [data]
	assert.Equal(t, "ml-100k/u.data", config.Data.Path)
	assert.Equal(t, "ml-100k", config.Data.Format)
	assert.Equal(t, ",", config.Data.Separator)
	assert.False(t, config.Data.Header)
	assert.Equal(t, expression.MustParseRatingExpression("rating>=3"), config.Data.Positive)
	// [data.split]
	assert.Equal(t, "stratified", config.Data.Split.Kind)
	assert.Equal(t, 0.75, config.Data.Split.Ratio)
	assert.Equal(t, 0, config.Data.Split.TestUsers)
	assert.Equal(t, int64(0), config.Data.Split.Seed)
	// [model]
	assert.Equal(t, "graph_bpr", config.Model.Name)
	assert.Equal(t, 64, config.Model.NFactors)
	assert.Equal(t, 50, config.Model.NEpochs)
	assert.Equal(t, float32(0.05), config.Model.Lr)
	assert.Equal(t, float32(0.01), config.Model.Reg)
	assert.Equal(t, float32(0.001), config.Model.Alpha)
	assert.Equal(t, 3, config.Model.NLayers)
	assert.Equal(t, float32(0), config.Model.InitMean)
	assert.Equal(t, float32(0.001), config.Model.InitStdDev)
	assert.Equal(t, int64(0), config.Model.RandomState)
	// [train]
	assert.Equal(t, 1, config.Train.Jobs)
	assert.Equal(t, 10, config.Train.Verbose)
	assert.Equal(t, 10, config.Train.TopK)
	assert.Equal(t, 100, config.Train.Candidates)
	// [eval]
	assert.Equal(t, 10, config.Eval.TopK)
	assert.Equal(t, []string{"map", "ndcg", "precision", "recall"}, config.Eval.Metrics)
	assert.True(t, config.Eval.FullRanking)
	// [output]
	assert.Equal(t, "user_embeddings.csv", config.Output.UserEmbeddings)
	assert.Equal(t, "item_embeddings.csv", config.Output.ItemEmbeddings)
	assert.Equal(t, "recommendations.csv", config.Output.Recommendations)
	assert.Empty(t, config.Output.Neighbors)
}

func TestSetDefault(t *testing.T) {
	viper.Reset()
	setDefault()
	viper.SetConfigType("yaml")
	err := viper.ReadConfig(strings.NewReader(""))
	assert.NoError(t, err)
	var config Config
	err = viper.Unmarshal(&config, decodeHook())
	assert.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), &config)
}

func TestBindEnv(t *testing.T) {
	t.Setenv("LIGHTREC_DATA_PATH", "ml-1m/ratings.dat")
	t.Setenv("LIGHTREC_DATA_FORMAT", "ml-1m")
	t.Setenv("LIGHTREC_MODEL_NAME", "bpr")
	t.Setenv("LIGHTREC_TRAIN_JOBS", "4")
	t.Setenv("LIGHTREC_EVAL_TOP_K", "20")
	t.Setenv("LIGHTREC_OUTPUT_USER_EMBEDDINGS", "u.csv")
	t.Setenv("LIGHTREC_OUTPUT_ITEM_EMBEDDINGS", "i.csv")
	t.Setenv("LIGHTREC_OUTPUT_RECOMMENDATIONS", "r.csv")
	t.Setenv("LIGHTREC_OUTPUT_NEIGHBORS", "n.csv")

	config, err := LoadConfig("config.yaml.template")
	assert.NoError(t, err)
	assert.Equal(t, "ml-1m/ratings.dat", config.Data.Path)
	assert.Equal(t, "ml-1m", config.Data.Format)
	assert.Equal(t, "bpr", config.Model.Name)
	assert.Equal(t, 4, config.Train.Jobs)
	assert.Equal(t, 20, config.Eval.TopK)
	assert.Equal(t, "u.csv", config.Output.UserEmbeddings)
	assert.Equal(t, "i.csv", config.Output.ItemEmbeddings)
	assert.Equal(t, "r.csv", config.Output.Recommendations)
	assert.Equal(t, "n.csv", config.Output.Neighbors)

	// check file values
	assert.Equal(t, 10, config.Train.Verbose)
	assert.Equal(t, 64, config.Model.NFactors)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		config := GetDefaultConfig()
		config.Data.Path = "ratings.csv"
		return config
	}
	assert.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.Data.Path = "" }},
		{"unknown format", func(c *Config) { c.Data.Format = "tsv" }},
		{"unknown model", func(c *Config) { c.Model.Name = "svd" }},
		{"zero factors", func(c *Config) { c.Model.NFactors = 0 }},
		{"zero learning rate", func(c *Config) { c.Model.Lr = 0 }},
		{"negative regularization", func(c *Config) { c.Model.Reg = -1 }},
		{"zero jobs", func(c *Config) { c.Train.Jobs = 0 }},
		{"unknown metric", func(c *Config) { c.Eval.Metrics = []string{"auc"} }},
		{"no metrics", func(c *Config) { c.Eval.Metrics = nil }},
		{"unknown split", func(c *Config) { c.Data.Split.Kind = "temporal" }},
		{"ratio too large", func(c *Config) { c.Data.Split.Ratio = 1 }},
		{"zero ratio", func(c *Config) { c.Data.Split.Ratio = 0 }},
		{"multi-rune separator", func(c *Config) { c.Data.Separator = "||" }},
		{"graph without layers", func(c *Config) { c.Model.NLayers = 0 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			config := valid()
			c.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestLoadDataset(t *testing.T) {
	// ml-100k layout with a positive filter
	path := filepath.Join(t.TempDir(), "u.data")
	assert.NoError(t, os.WriteFile(path, []byte("1\t10\t4\t100\n1\t11\t2\t200\n"), 0644))
	dataConfig := DataConfig{
		Path:     path,
		Format:   "ml-100k",
		Positive: expression.MustParseRatingExpression("rating>=3"),
	}
	data, err := dataConfig.LoadDataset()
	assert.NoError(t, err)
	assert.Equal(t, 1, data.CountFeedback())

	// csv layout without a positive filter
	path = filepath.Join(t.TempDir(), "ratings.csv")
	assert.NoError(t, os.WriteFile(path, []byte("u,i,5\n"), 0644))
	dataConfig = DataConfig{Path: path, Format: "csv", Separator: ","}
	data, err = dataConfig.LoadDataset()
	assert.NoError(t, err)
	assert.Equal(t, 1, data.CountFeedback())

	dataConfig = DataConfig{Path: path, Format: "parquet"}
	_, err = dataConfig.LoadDataset()
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	data := dataset.NewDataset(time.Now(), 2, 4)
	timestamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, userId := range []string{"u0", "u1"} {
		for _, itemId := range []string{"i0", "i1", "i2", "i3"} {
			data.AddRating(userId, itemId, 1, timestamp)
			timestamp = timestamp.Add(time.Minute)
		}
	}

	trainSet, testSet, err := (&SplitConfig{Kind: "random", Ratio: 0.75}).Split(data)
	assert.NoError(t, err)
	assert.Equal(t, 6, trainSet.CountFeedback())
	assert.Equal(t, 2, testSet.CountFeedback())

	trainSet, testSet, err = (&SplitConfig{Kind: "stratified", Ratio: 0.75}).Split(data)
	assert.NoError(t, err)
	assert.Equal(t, 6, trainSet.CountFeedback())
	assert.Equal(t, 2, testSet.CountFeedback())

	trainSet, testSet, err = (&SplitConfig{Kind: "leave-one-out"}).Split(data)
	assert.NoError(t, err)
	assert.Equal(t, 6, trainSet.CountFeedback())
	assert.Equal(t, 2, testSet.CountFeedback())

	_, _, err = (&SplitConfig{Kind: "temporal"}).Split(data)
	assert.Error(t, err)
}

func TestBridges(t *testing.T) {
	config := GetDefaultConfig()

	params := config.ModelParams()
	assert.Equal(t, 64, params.GetInt(model.NFactors, 0))
	assert.Equal(t, 50, params.GetInt(model.NEpochs, 0))
	assert.Equal(t, float32(0.05), params.GetFloat32(model.Lr, 0))
	assert.Equal(t, float32(0.01), params.GetFloat32(model.Reg, 0))
	assert.Equal(t, 3, params.GetInt(model.NLayers, 0))
	assert.Equal(t, int64(0), params.GetInt64(model.RandomState, -1))

	fitConfig := config.FitConfig()
	assert.Equal(t, 1, fitConfig.Jobs)
	assert.Equal(t, 10, fitConfig.Verbose)
	assert.Equal(t, 10, fitConfig.TopK)
	assert.Equal(t, 100, fitConfig.Candidates)

	assert.Len(t, config.Eval.Scorers(), 4)
	assert.Equal(t, []string{"MAP@10", "NDCG@10", "Precision@10", "Recall@10"}, config.Eval.Labels())
}
