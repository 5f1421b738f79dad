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

// UserToUser finds similar users by cosine similarity of user embeddings.
type UserToUser struct {
	search *embeddingSearch
}

func NewUserToUser(m cf.MatrixFactorization, jobs int) *UserToUser {
	return &UserToUser{
		search: newEmbeddingSearch(m.GetUserIndex(), m.IsUserPredictable, m.GetUserFactor, jobs),
	}
}

// Neighbors returns the n most similar users for every trained user.
func (user *UserToUser) Neighbors(n int) ([]Neighbor, error) {
	return user.search.neighbors(n)
}
