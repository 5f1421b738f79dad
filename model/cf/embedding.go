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
	"fmt"
	"io"
	"strings"

	"github.com/juju/errors"
	"github.com/lightrec-io/lightrec/base"
	"github.com/lightrec-io/lightrec/base/encoding"
	"github.com/lightrec-io/lightrec/dataset"
)

// SaveUserEmbeddings writes the learned user embeddings as a CSV table with
// columns id,e_0..e_{d-1}. Users without training feedback are skipped.
func SaveUserEmbeddings(w io.Writer, m MatrixFactorization) error {
	return saveEmbeddings(w, m.GetUserIndex(), m.IsUserPredictable, m.GetUserFactor)
}

// SaveItemEmbeddings writes the learned item embeddings as a CSV table with
// columns id,e_0..e_{d-1}. Items without training feedback are skipped.
func SaveItemEmbeddings(w io.Writer, m MatrixFactorization) error {
	return saveEmbeddings(w, m.GetItemIndex(), m.IsItemPredictable, m.GetItemFactor)
}

func saveEmbeddings(w io.Writer, dict *dataset.FreqDict, predictable func(int32) bool, factor func(int32) []float32) error {
	count := int32(dict.Count())
	width := 0
	for index := int32(0); index < count; index++ {
		if predictable(index) {
			width = len(factor(index))
			break
		}
	}
	builder := strings.Builder{}
	builder.WriteString("id")
	for i := 0; i < width; i++ {
		builder.WriteString(fmt.Sprintf(",e_%d", i))
	}
	builder.WriteString("\r\n")
	if _, err := w.Write([]byte(builder.String())); err != nil {
		return errors.Trace(err)
	}
	for index := int32(0); index < count; index++ {
		if !predictable(index) {
			continue
		}
		id, _ := dict.String(int(index))
		builder.Reset()
		builder.WriteString(base.Escape(id))
		for _, val := range factor(index) {
			builder.WriteByte(',')
			builder.WriteString(encoding.FormatFloat32(val))
		}
		builder.WriteString("\r\n")
		if _, err := w.Write([]byte(builder.String())); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// SaveRecommendations writes a user_id,item_id,score CSV table.
func SaveRecommendations(w io.Writer, recommendations []Recommendation) error {
	if _, err := w.Write([]byte("user_id,item_id,score\r\n")); err != nil {
		return errors.Trace(err)
	}
	for _, r := range recommendations {
		if _, err := fmt.Fprintf(w, "%s,%s,%s\r\n",
			base.Escape(r.UserId), base.Escape(r.ItemId), encoding.FormatFloat32(r.Score)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
