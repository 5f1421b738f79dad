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

package graph

import (
	"context"
	"sort"

	"github.com/chewxy/math32"
	"github.com/lightrec-io/lightrec/base"
	"github.com/lightrec-io/lightrec/common/floats"
	"github.com/lightrec-io/lightrec/common/parallel"
	"github.com/lightrec-io/lightrec/dataset"
	"github.com/samber/lo"
	"modernc.org/sortutil"
)

// Graph is the bipartite interaction graph of a training split in compressed
// sparse row form over internal user and item indices.
type Graph struct {
	userPtr    []int
	userAdj    []int32
	itemPtr    []int
	itemAdj    []int32
	userDegree []int32
	itemDegree []int32
	numEdges   int
}

// NewGraph builds the interaction graph of a training split. Duplicate
// (user, item) pairs collapse into a single edge.
func NewGraph(trainSet dataset.CFSplit) *Graph {
	g := &Graph{
		userPtr:    make([]int, 1, trainSet.CountUsers()+1),
		itemPtr:    make([]int, 1, trainSet.CountItems()+1),
		userDegree: make([]int32, trainSet.CountUsers()),
		itemDegree: make([]int32, trainSet.CountItems()),
	}
	for userIndex, feedback := range trainSet.GetUserFeedback() {
		neighbors := sortedUnique(feedback)
		g.userAdj = append(g.userAdj, neighbors...)
		g.userPtr = append(g.userPtr, len(g.userAdj))
		g.userDegree[userIndex] = int32(len(neighbors))
	}
	for itemIndex, feedback := range trainSet.GetItemFeedback() {
		neighbors := sortedUnique(feedback)
		g.itemAdj = append(g.itemAdj, neighbors...)
		g.itemPtr = append(g.itemPtr, len(g.itemAdj))
		g.itemDegree[itemIndex] = int32(len(neighbors))
	}
	g.numEdges = len(g.userAdj)
	return g
}

func sortedUnique(indices []int32) []int32 {
	sorted := make([]int32, len(indices))
	copy(sorted, indices)
	sort.Sort(sortutil.Int32Slice(sorted))
	return lo.Uniq(sorted)
}

func (g *Graph) CountUsers() int {
	return len(g.userDegree)
}

func (g *Graph) CountItems() int {
	return len(g.itemDegree)
}

func (g *Graph) CountEdges() int {
	return g.numEdges
}

func (g *Graph) UserDegree(userIndex int32) int32 {
	return g.userDegree[userIndex]
}

func (g *Graph) ItemDegree(itemIndex int32) int32 {
	return g.itemDegree[itemIndex]
}

// UserNeighbors returns the items the user interacted with, sorted.
func (g *Graph) UserNeighbors(userIndex int32) []int32 {
	return g.userAdj[g.userPtr[userIndex]:g.userPtr[userIndex+1]]
}

// ItemNeighbors returns the users the item was interacted by, sorted.
func (g *Graph) ItemNeighbors(itemIndex int32) []int32 {
	return g.itemAdj[g.itemPtr[itemIndex]:g.itemPtr[itemIndex+1]]
}

// HasEdge reports whether the user interacted with the item.
func (g *Graph) HasEdge(userIndex, itemIndex int32) bool {
	neighbors := g.UserNeighbors(userIndex)
	k := sort.Search(len(neighbors), func(i int) bool {
		return neighbors[i] >= itemIndex
	})
	return k < len(neighbors) && neighbors[k] == itemIndex
}

// SampleEdge returns a uniformly sampled (user, positive item) edge.
func (g *Graph) SampleEdge(rng base.RandomGenerator) (userIndex, itemIndex int32) {
	p := rng.Intn(g.numEdges)
	u := sort.Search(g.CountUsers(), func(i int) bool {
		return g.userPtr[i+1] > p
	})
	return int32(u), g.userAdj[p]
}

// Propagate smooths embeddings over the interaction graph. Each layer
// multiplies by the symmetric normalized adjacency
//
//	e_u = sum_{i in N(u)} e_i/sqrt(|N(u)||N(i)|)
//	e_i = sum_{u in N(i)} e_u/sqrt(|N(i)||N(u)|)
//
// and the result is the mean of the input and all numLayers layer outputs.
// The input matrices are left unmodified. Nodes without edges keep their
// embeddings.
func (g *Graph) Propagate(userEmb, itemEmb [][]float32, numLayers, jobs int) ([][]float32, [][]float32) {
	userOut, itemOut := cloneMatrix(userEmb), cloneMatrix(itemEmb)
	if numLayers == 0 {
		return userOut, itemOut
	}
	curUser, curItem := cloneMatrix(userEmb), cloneMatrix(itemEmb)
	nextUser := base.NewMatrix32(len(userEmb), columns(userEmb))
	nextItem := base.NewMatrix32(len(itemEmb), columns(itemEmb))
	for layer := 0; layer < numLayers; layer++ {
		_ = parallel.For(context.Background(), len(userEmb), jobs, func(userIndex int) {
			row := nextUser[userIndex]
			if g.userDegree[userIndex] == 0 {
				copy(row, curUser[userIndex])
				return
			}
			floats.Zero(row)
			for p := g.userPtr[userIndex]; p < g.userPtr[userIndex+1]; p++ {
				neighbor := g.userAdj[p]
				norm := 1 / math32.Sqrt(float32(g.userDegree[userIndex])*float32(g.itemDegree[neighbor]))
				floats.MulConstAdd(curItem[neighbor], norm, row)
			}
		})
		_ = parallel.For(context.Background(), len(itemEmb), jobs, func(itemIndex int) {
			row := nextItem[itemIndex]
			if g.itemDegree[itemIndex] == 0 {
				copy(row, curItem[itemIndex])
				return
			}
			floats.Zero(row)
			for p := g.itemPtr[itemIndex]; p < g.itemPtr[itemIndex+1]; p++ {
				neighbor := g.itemAdj[p]
				norm := 1 / math32.Sqrt(float32(g.itemDegree[itemIndex])*float32(g.userDegree[neighbor]))
				floats.MulConstAdd(curUser[neighbor], norm, row)
			}
		})
		curUser, nextUser = nextUser, curUser
		curItem, nextItem = nextItem, curItem
		for i := range userOut {
			floats.Add(userOut[i], curUser[i])
		}
		for i := range itemOut {
			floats.Add(itemOut[i], curItem[i])
		}
	}
	weight := 1 / float32(numLayers+1)
	for i := range userOut {
		floats.MulConst(userOut[i], weight)
	}
	for i := range itemOut {
		floats.MulConst(itemOut[i], weight)
	}
	return userOut, itemOut
}

func cloneMatrix(m [][]float32) [][]float32 {
	out := base.NewMatrix32(len(m), columns(m))
	for i := range m {
		copy(out[i], m[i])
	}
	return out
}

func columns(m [][]float32) int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}
