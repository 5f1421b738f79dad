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

package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatingExpression_UnmarshalJSON(t *testing.T) {
	var f RatingExpression
	err := f.UnmarshalJSON([]byte(`"rating"`))
	assert.NoError(t, err)
	assert.Equal(t, "rating", f.Column)
	assert.Equal(t, None, f.ExprType)

	err = f.UnmarshalJSON([]byte(`"1a"`))
	assert.Error(t, err)

	err = f.UnmarshalJSON([]byte(`"rating<3"`))
	assert.NoError(t, err)
	assert.Equal(t, "rating", f.Column)
	assert.Equal(t, Less, f.ExprType)
	assert.Equal(t, 3.0, f.Value)

	err = f.UnmarshalJSON([]byte(`"rating<=3"`))
	assert.NoError(t, err)
	assert.Equal(t, "rating", f.Column)
	assert.Equal(t, LessOrEqual, f.ExprType)
	assert.Equal(t, 3.0, f.Value)

	err = f.UnmarshalJSON([]byte(`"rating>3"`))
	assert.NoError(t, err)
	assert.Equal(t, "rating", f.Column)
	assert.Equal(t, Greater, f.ExprType)
	assert.Equal(t, 3.0, f.Value)

	err = f.UnmarshalJSON([]byte(`"rating>=3"`))
	assert.NoError(t, err)
	assert.Equal(t, "rating", f.Column)
	assert.Equal(t, GreaterOrEqual, f.ExprType)
	assert.Equal(t, 3.0, f.Value)
}

func TestRatingExpression_MarshalJSON(t *testing.T) {
	f := RatingExpression{Column: "rating", Value: 3}
	buf, err := f.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"rating"`, string(buf))

	f.ExprType = Less
	buf, err = f.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"rating<3"`, string(buf))

	f.ExprType = GreaterOrEqual
	buf, err = f.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"rating>=3"`, string(buf))
}

func TestRatingExpression_Text(t *testing.T) {
	var f RatingExpression
	err := f.UnmarshalText([]byte("rating>=3.5"))
	assert.NoError(t, err)
	assert.Equal(t, "rating", f.Column)
	assert.Equal(t, GreaterOrEqual, f.ExprType)
	assert.Equal(t, 3.5, f.Value)

	buf, err := f.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "rating>=3.5", string(buf))
}

func TestRatingExpression_Match(t *testing.T) {
	expr := MustParseRatingExpression("rating>=3")
	assert.True(t, expr.Match("rating", 3))
	assert.True(t, expr.Match("rating", 4.5))
	assert.False(t, expr.Match("rating", 2.5))
	assert.False(t, expr.Match("stars", 5))

	any := MustParseRatingExpression("rating")
	assert.True(t, any.Match("rating", 0.5))

	assert.True(t, MatchRatingExpressions([]RatingExpression{expr}, "rating", 5))
	assert.False(t, MatchRatingExpressions([]RatingExpression{expr}, "rating", 1))
}
