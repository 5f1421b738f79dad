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
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/samber/lo"
)

var expressionPattern = regexp.MustCompile(`^(?P<column>[a-zA-Z][a-zA-Z0-9_]*)(?P<expr_type><=|>=|<|>|=)?(?P<value>[0-9]*\.?[0-9]*)$`)

type ExprType int

const (
	None ExprType = iota
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
)

func (typ ExprType) String() string {
	switch typ {
	case Less:
		return "<"
	case LessOrEqual:
		return "<="
	case Greater:
		return ">"
	case GreaterOrEqual:
		return ">="
	default:
		return ""
	}
}

// RatingExpression is a threshold over a rating column, e.g. "rating>=3".
// An expression without an operator matches any value.
type RatingExpression struct {
	Column   string
	ExprType ExprType
	Value    float64
}

func (f *RatingExpression) String() string {
	if f.ExprType == None {
		return f.Column
	} else {
		return fmt.Sprintf("%s%v%v", f.Column, f.ExprType, f.Value)
	}
}

func (f *RatingExpression) FromString(data string) error {
	groupNames := expressionPattern.SubexpNames()
	subMatches := expressionPattern.FindStringSubmatch(data)
	if len(subMatches) == 0 {
		return errors.New("invalid expression format, expected format: <column>[<operator><value>]")
	}
	for i, match := range subMatches {
		switch groupNames[i] {
		case "column":
			f.Column = match
		case "expr_type":
			switch match {
			case "<":
				f.ExprType = Less
			case "<=":
				f.ExprType = LessOrEqual
			case ">":
				f.ExprType = Greater
			case ">=":
				f.ExprType = GreaterOrEqual
			default:
				f.ExprType = None
			}
		case "value":
			if len(match) > 0 {
				var err error
				f.Value, err = strconv.ParseFloat(match, 64)
				if err != nil {
					return fmt.Errorf("invalid value: %w", err)
				}
			}
		}
	}
	return nil
}

func (f *RatingExpression) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *RatingExpression) UnmarshalText(text []byte) error {
	return f.FromString(string(text))
}

func (f *RatingExpression) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *RatingExpression) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshal RatingExpression: %w", err)
	}
	if err := f.FromString(s); err != nil {
		return fmt.Errorf("unmarshal RatingExpression: %w", err)
	}
	return nil
}

func (f *RatingExpression) Match(column string, value float64) bool {
	if f.Column != column {
		return false
	}
	switch f.ExprType {
	case None:
		return true
	case Less:
		return value < f.Value
	case LessOrEqual:
		return value <= f.Value
	case Greater:
		return value > f.Value
	case GreaterOrEqual:
		return value >= f.Value
	default:
		return false
	}
}

func MatchRatingExpressions(exprs []RatingExpression, column string, value float64) bool {
	for _, expr := range exprs {
		if expr.Match(column, value) {
			return true
		}
	}
	return false
}

func MustParseRatingExpression(s string) RatingExpression {
	var expr RatingExpression
	lo.Must0(expr.FromString(s))
	return expr
}
