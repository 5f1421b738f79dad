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
	stderrors "errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/lightrec-io/lightrec/common/expression"
	"github.com/lightrec-io/lightrec/dataset"
	"github.com/lightrec-io/lightrec/model"
	"github.com/lightrec-io/lightrec/model/cf"
	"github.com/spf13/viper"
)

// Config is the configuration of a training pipeline.
type Config struct {
	Data   DataConfig   `mapstructure:"data"`
	Model  ModelConfig  `mapstructure:"model"`
	Train  TrainConfig  `mapstructure:"train"`
	Eval   EvalConfig   `mapstructure:"eval"`
	Output OutputConfig `mapstructure:"output"`
}

// DataConfig describes the ratings table and how to divide it.
type DataConfig struct {
	Path      string                      `mapstructure:"path" validate:"required"`
	Format    string                      `mapstructure:"format" validate:"oneof=ml-100k ml-1m csv"`
	Separator string                      `mapstructure:"separator"`
	Header    bool                        `mapstructure:"header"`
	Positive  expression.RatingExpression `mapstructure:"positive"`
	Split     SplitConfig                 `mapstructure:"split"`
}

type SplitConfig struct {
	Kind      string  `mapstructure:"kind" validate:"oneof=random stratified leave-one-out"`
	Ratio     float64 `mapstructure:"ratio" validate:"gte=0,lt=1"`
	TestUsers int     `mapstructure:"test_users" validate:"gte=0"`
	Seed      int64   `mapstructure:"seed"`
}

// ModelConfig holds the model name and its hyper-parameters.
type ModelConfig struct {
	Name        string  `mapstructure:"name" validate:"oneof=bpr als graph_bpr"`
	NFactors    int     `mapstructure:"n_factors" validate:"gt=0"`
	NEpochs     int     `mapstructure:"n_epochs" validate:"gt=0"`
	Lr          float32 `mapstructure:"lr" validate:"gt=0"`
	Reg         float32 `mapstructure:"reg" validate:"gte=0"`
	Alpha       float32 `mapstructure:"alpha" validate:"gte=0"`
	NLayers     int     `mapstructure:"n_layers" validate:"gte=0"`
	InitMean    float32 `mapstructure:"init_mean"`
	InitStdDev  float32 `mapstructure:"init_std_dev" validate:"gte=0"`
	RandomState int64   `mapstructure:"random_state"`
}

type TrainConfig struct {
	Jobs       int `mapstructure:"jobs" validate:"gt=0"`
	Verbose    int `mapstructure:"verbose" validate:"gte=0"`
	TopK       int `mapstructure:"top_k" validate:"gt=0"`
	Candidates int `mapstructure:"candidates" validate:"gt=0"`
}

type EvalConfig struct {
	TopK        int      `mapstructure:"top_k" validate:"gt=0"`
	Metrics     []string `mapstructure:"metrics" validate:"min=1,dive,oneof=map ndcg precision recall hr mrr"`
	FullRanking bool     `mapstructure:"full_ranking"`
}

// OutputConfig lists export file paths. An empty path skips the export.
type OutputConfig struct {
	UserEmbeddings  string `mapstructure:"user_embeddings"`
	ItemEmbeddings  string `mapstructure:"item_embeddings"`
	Recommendations string `mapstructure:"recommendations"`
	Neighbors       string `mapstructure:"neighbors"`
}

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Format:    "csv",
			Separator: ",",
			Positive:  expression.MustParseRatingExpression("rating>=3"),
			Split: SplitConfig{
				Kind:  "stratified",
				Ratio: 0.75,
			},
		},
		Model: ModelConfig{
			Name:       "graph_bpr",
			NFactors:   64,
			NEpochs:    50,
			Lr:         0.05,
			Reg:        0.01,
			Alpha:      0.001,
			NLayers:    3,
			InitStdDev: 0.001,
		},
		Train: TrainConfig{
			Jobs:       1,
			Verbose:    10,
			TopK:       10,
			Candidates: 100,
		},
		Eval: EvalConfig{
			TopK:        10,
			Metrics:     []string{"map", "ndcg", "precision", "recall"},
			FullRanking: true,
		},
	}
}

func setDefault() {
	// [data]
	viper.SetDefault("data.format", "csv")
	viper.SetDefault("data.separator", ",")
	viper.SetDefault("data.positive", "rating>=3")
	// [data.split]
	viper.SetDefault("data.split.kind", "stratified")
	viper.SetDefault("data.split.ratio", 0.75)
	viper.SetDefault("data.split.test_users", 0)
	viper.SetDefault("data.split.seed", 0)
	// [model]
	viper.SetDefault("model.name", "graph_bpr")
	viper.SetDefault("model.n_factors", 64)
	viper.SetDefault("model.n_epochs", 50)
	viper.SetDefault("model.lr", 0.05)
	viper.SetDefault("model.reg", 0.01)
	viper.SetDefault("model.alpha", 0.001)
	viper.SetDefault("model.n_layers", 3)
	viper.SetDefault("model.init_mean", 0)
	viper.SetDefault("model.init_std_dev", 0.001)
	viper.SetDefault("model.random_state", 0)
	// [train]
	viper.SetDefault("train.jobs", 1)
	viper.SetDefault("train.verbose", 10)
	viper.SetDefault("train.top_k", 10)
	viper.SetDefault("train.candidates", 100)
	// [eval]
	viper.SetDefault("eval.top_k", 10)
	viper.SetDefault("eval.metrics", []string{"map", "ndcg", "precision", "recall"})
	viper.SetDefault("eval.full_ranking", true)
}

type configBinding struct {
	key string
	env string
}

// LoadConfig loads and validates the configuration from a YAML file.
// Environment variables take precedence over the file.
func LoadConfig(path string) (*Config, error) {
	// Set default values
	setDefault()

	// Bind environment variables
	bindings := []configBinding{
		{"data.path", "LIGHTREC_DATA_PATH"},
		{"data.format", "LIGHTREC_DATA_FORMAT"},
		{"data.separator", "LIGHTREC_DATA_SEPARATOR"},
		{"model.name", "LIGHTREC_MODEL_NAME"},
		{"train.jobs", "LIGHTREC_TRAIN_JOBS"},
		{"eval.top_k", "LIGHTREC_EVAL_TOP_K"},
		{"output.user_embeddings", "LIGHTREC_OUTPUT_USER_EMBEDDINGS"},
		{"output.item_embeddings", "LIGHTREC_OUTPUT_ITEM_EMBEDDINGS"},
		{"output.recommendations", "LIGHTREC_OUTPUT_RECOMMENDATIONS"},
		{"output.neighbors", "LIGHTREC_OUTPUT_NEIGHBORS"},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// Read config file
	viper.SetConfigType("yaml")
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Trace(err)
	}

	// Unmarshal config file
	conf := new(Config)
	if err := viper.Unmarshal(conf, decodeHook()); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return conf, nil
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
}

// Validate checks field ranges and the rules struct tags cannot express.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		var validationErrors validator.ValidationErrors
		if stderrors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fieldError := validationErrors[0]
			return errors.NotValidf("field %v with value `%v`", fieldError.Namespace(), fieldError.Value())
		}
		return errors.Trace(err)
	}
	if config.Data.Format == "csv" && utf8.RuneCountInString(config.Data.Separator) != 1 {
		return errors.NotValidf("data.separator %q", config.Data.Separator)
	}
	if config.Data.Split.Kind != "leave-one-out" && config.Data.Split.Ratio <= 0 {
		return errors.NotValidf("data.split.ratio %v with %v split", config.Data.Split.Ratio, config.Data.Split.Kind)
	}
	if config.Model.Name == "graph_bpr" && config.Model.NLayers < 1 {
		return errors.NotValidf("model.n_layers %v with graph_bpr", config.Model.NLayers)
	}
	return nil
}

// LoadDataset reads the configured ratings table.
func (config *DataConfig) LoadDataset() (*dataset.Dataset, error) {
	positive := &config.Positive
	if config.Positive.Column == "" {
		positive = nil
	}
	switch config.Format {
	case "ml-100k":
		return dataset.LoadMovieLens100K(config.Path, positive)
	case "ml-1m":
		return dataset.LoadMovieLens1M(config.Path, positive)
	case "csv":
		return dataset.LoadCSV(config.Path, config.Separator, config.Header, positive)
	}
	return nil, errors.Errorf("unknown data format %v", config.Format)
}

// Split divides a dataset with the configured protocol.
func (config *SplitConfig) Split(data *dataset.Dataset) (*dataset.Dataset, *dataset.Dataset, error) {
	switch config.Kind {
	case "random":
		return data.SplitRatio(config.Ratio, config.Seed)
	case "stratified":
		return data.SplitStratified(config.Ratio, config.Seed)
	case "leave-one-out":
		trainSet, testSet := data.SplitLeaveOneOut(config.TestUsers, config.Seed)
		return trainSet, testSet, nil
	}
	return nil, nil, errors.Errorf("unknown split kind %v", config.Kind)
}

// ModelParams bridges the model section to hyper-parameters.
func (config *Config) ModelParams() model.Params {
	return model.Params{
		model.NFactors:    config.Model.NFactors,
		model.NEpochs:     config.Model.NEpochs,
		model.Lr:          config.Model.Lr,
		model.Reg:         config.Model.Reg,
		model.Alpha:       config.Model.Alpha,
		model.NLayers:     config.Model.NLayers,
		model.InitMean:    config.Model.InitMean,
		model.InitStdDev:  config.Model.InitStdDev,
		model.RandomState: config.Model.RandomState,
	}
}

// FitConfig bridges the train section to fit options.
func (config *Config) FitConfig() *cf.FitConfig {
	return cf.NewFitConfig().
		SetJobs(config.Train.Jobs).
		SetVerbose(config.Train.Verbose).
		SetCandidates(config.Train.Candidates).
		SetTopK(config.Train.TopK)
}

// Scorers returns evaluators for the configured metric names, in order.
func (config *EvalConfig) Scorers() []cf.Metric {
	scorers := make([]cf.Metric, 0, len(config.Metrics))
	for _, name := range config.Metrics {
		switch name {
		case "map":
			scorers = append(scorers, cf.MAP)
		case "ndcg":
			scorers = append(scorers, cf.NDCG)
		case "precision":
			scorers = append(scorers, cf.Precision)
		case "recall":
			scorers = append(scorers, cf.Recall)
		case "hr":
			scorers = append(scorers, cf.HR)
		case "mrr":
			scorers = append(scorers, cf.MRR)
		}
	}
	return scorers
}

var metricLabels = map[string]string{
	"map":       "MAP",
	"ndcg":      "NDCG",
	"precision": "Precision",
	"recall":    "Recall",
	"hr":        "HR",
	"mrr":       "MRR",
}

// Labels returns metric@k table headers matching Scorers.
func (config *EvalConfig) Labels() []string {
	labels := make([]string, 0, len(config.Metrics))
	for _, name := range config.Metrics {
		if label, ok := metricLabels[name]; ok {
			labels = append(labels, fmt.Sprintf("%s@%d", label, config.TopK))
		}
	}
	return labels
}
