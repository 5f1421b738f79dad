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
	"github.com/lightrec-io/lightrec/model/cf"
)

// ItemToItem finds similar items by cosine similarity of item embeddings.
type ItemToItem struct {
	search *embeddingSearch
}

func NewItemToItem(m cf.MatrixFactorization, jobs int) *ItemToItem {
	return &ItemToItem{
		search: newEmbeddingSearch(m.GetItemIndex(), m.IsItemPredictable, m.GetItemFactor, jobs),
	}
}

// Neighbors returns the n most similar items for every trained item.
func (item *ItemToItem) Neighbors(n int) ([]Neighbor, error) {
	return item.search.neighbors(n)
}
