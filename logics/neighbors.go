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

package logics

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/lightrec-io/lightrec/base"
	"github.com/lightrec-io/lightrec/base/encoding"
	"github.com/lightrec-io/lightrec/base/log"
	"github.com/lightrec-io/lightrec/common/ann"
	"github.com/lightrec-io/lightrec/common/floats"
	"github.com/lightrec-io/lightrec/common/parallel"
	"github.com/lightrec-io/lightrec/dataset"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	// bruteforceThreshold is the entity count below which exact search is used.
	bruteforceThreshold = 1024
	// recallTestSize is the sample size for estimating approximate search recall.
	recallTestSize = 100
	recallTopK     = 10
)

// Neighbor is one row of a nearest neighbor table.
type Neighbor struct {
	Id         string
	NeighborId string
	Similarity float32
}

// vectorIndex is the subset of vector index operations neighbor search uses.
type vectorIndex interface {
	Add(v []float32) int
	SearchIndex(q, k int, prune0 bool) ([]lo.Tuple2[int, float32], error)
}

// negativeDot orders unit vectors by descending cosine similarity.
func negativeDot(a, b []float32) float32 {
	return -floats.Dot(a, b)
}

type embeddingSearch struct {
	ids     []string
	vectors [][]float32
	index   vectorIndex
	jobs    int
}

func newEmbeddingSearch(dict *dataset.FreqDict, predictable func(int32) bool, factor func(int32) []float32, jobs int) *embeddingSearch {
	s := &embeddingSearch{jobs: jobs}
	for index := int32(0); index < int32(dict.Count()); index++ {
		if !predictable(index) {
			continue
		}
		id, _ := dict.String(int(index))
		vector := slices.Clone(factor(index))
		if norm := math32.Sqrt(floats.Dot(vector, vector)); norm > 0 {
			floats.MulConst(vector, 1/norm)
		}
		s.ids = append(s.ids, id)
		s.vectors = append(s.vectors, vector)
	}
	if len(s.vectors) < bruteforceThreshold {
		s.index = ann.NewBruteforce(negativeDot)
	} else {
		s.index = ann.NewHNSW(negativeDot)
	}
	for _, vector := range s.vectors {
		s.index.Add(vector)
	}
	if _, approximate := s.index.(*ann.HNSW[[]float32]); approximate {
		log.Logger().Info("estimated nearest neighbor recall",
			zap.Int("n_vectors", len(s.vectors)),
			zap.Float32("recall", s.estimateRecall(recallTopK)))
	}
	return s
}

// neighbors returns the n most similar entities for every entity.
func (s *embeddingSearch) neighbors(n int) ([]Neighbor, error) {
	results := make([][]Neighbor, len(s.ids))
	err := parallel.Parallel(context.Background(), len(s.ids), s.jobs, func(_, i int) error {
		scores, err := s.index.SearchIndex(i, n, false)
		if err != nil {
			return errors.Trace(err)
		}
		rows := make([]Neighbor, 0, len(scores))
		for _, score := range scores {
			rows = append(rows, Neighbor{
				Id:         s.ids[i],
				NeighborId: s.ids[score.A],
				Similarity: -score.B,
			})
		}
		results[i] = rows
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Flatten(results), nil
}

// estimateRecall compares the index against exact search on a sample.
func (s *embeddingSearch) estimateRecall(k int) float32 {
	truth := ann.NewBruteforce(negativeDot)
	for _, vector := range s.vectors {
		truth.Add(vector)
	}
	rng := base.NewRandomGenerator(0)
	testSize := min(recallTestSize, len(s.vectors))
	samples := rng.Sample(0, len(s.vectors), testSize)
	var result, count float32
	var mu sync.Mutex
	_ = parallel.Parallel(context.Background(), len(samples), s.jobs, func(_, i int) error {
		expected, err := truth.SearchIndex(samples[i], k, false)
		if err != nil {
			return errors.Trace(err)
		}
		if len(expected) > 0 {
			actual, err := s.index.SearchIndex(samples[i], k, false)
			if err != nil {
				return errors.Trace(err)
			}
			mu.Lock()
			defer mu.Unlock()
			result += recall(expected, actual)
			count++
		}
		return nil
	})
	if count == 0 {
		return 0
	}
	return result / count
}

func recall(expected, actual []lo.Tuple2[int, float32]) float32 {
	truth := mapset.NewSet[int]()
	for _, v := range expected {
		truth.Add(v.A)
	}
	var hit float32
	for _, v := range actual {
		if truth.Contains(v.A) {
			hit++
		}
	}
	if len(actual) == 0 {
		return 0
	}
	return hit / float32(len(actual))
}

// SaveNeighbors writes an id,neighbor_id,similarity CSV table.
func SaveNeighbors(w io.Writer, neighbors []Neighbor) error {
	if _, err := w.Write([]byte("id,neighbor_id,similarity\r\n")); err != nil {
		return errors.Trace(err)
	}
	for _, n := range neighbors {
		if _, err := fmt.Fprintf(w, "%s,%s,%s\r\n",
			base.Escape(n.Id), base.Escape(n.NeighborId), encoding.FormatFloat32(n.Similarity)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
