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

package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKeyType string

var spanKeyName = spanKeyType(uuid.New().String())

type Status string

const (
	StatusPending   Status = "Pending"
	StatusComplete  Status = "Complete"
	StatusRunning   Status = "Running"
	StatusSuspended Status = "Suspended"
	StatusFailed    Status = "Failed"
)

type Tracer struct {
	name  string
	spans sync.Map
}

func NewTracer(name string) *Tracer {
	return &Tracer{name: name}
}

// Start creates a root span.
func (t *Tracer) Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	span := &Span{
		name:   name,
		status: StatusRunning,
		total:  total,
		start:  time.Now(),
	}
	t.spans.Store(name, span)
	return context.WithValue(ctx, spanKeyName, span), span
}

// List returns the progress of all root spans.
func (t *Tracer) List() []Progress {
	var progress []Progress
	t.spans.Range(func(key, value interface{}) bool {
		span := value.(*Span)
		p := span.Progress()
		p.Tracer = t.name
		progress = append(progress, p)
		return true
	})
	return progress
}

type Span struct {
	name     string
	status   Status
	total    int
	count    int
	err      error
	start    time.Time
	finish   time.Time
	children sync.Map
}

func (s *Span) Add(n int) {
	s.count += n
}

func (s *Span) End() {
	s.count = s.total
	s.status = StatusComplete
	s.finish = time.Now()
}

func (s *Span) Fail(err error) {
	s.err = err
	s.status = StatusFailed
	s.finish = time.Now()
}

func (s *Span) Count() int {
	return s.count
}

// Progress reports the span. A running child scales the parent's
// total and count, a failed child propagates status and error.
func (s *Span) Progress() Progress {
	total := s.total
	count := s.count
	status := s.status
	var errMsg string
	if s.err != nil {
		errMsg = s.err.Error()
	}
	s.children.Range(func(key, value interface{}) bool {
		child := value.(*Span)
		p := child.Progress()
		switch p.Status {
		case StatusFailed:
			status = StatusFailed
			errMsg = p.Error
			total = s.total
			count = s.count
			return false
		case StatusRunning:
			total = s.total * p.Total
			count = s.count*p.Total + p.Count
			return false
		default:
			return true
		}
	})
	return Progress{
		Name:       s.name,
		Status:     status,
		Error:      errMsg,
		Count:      count,
		Total:      total,
		StartTime:  s.start,
		FinishTime: s.finish,
	}
}

// Start creates a child span in the current context. The span becomes a root
// if the context carries no span.
func Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	childSpan := &Span{
		name:   name,
		status: StatusRunning,
		total:  total,
		count:  0,
		start:  time.Now(),
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if span, ok := ctx.Value(spanKeyName).(*Span); ok {
		span.children.Store(name, childSpan)
	}
	return context.WithValue(ctx, spanKeyName, childSpan), childSpan
}

// Fail marks the span in the current context as failed.
func Fail(ctx context.Context, err error) {
	if ctx == nil {
		return
	}
	if span, ok := ctx.Value(spanKeyName).(*Span); ok {
		span.Fail(err)
	}
}

type Progress struct {
	Tracer     string
	Name       string
	Status     Status
	Error      string
	Count      int
	Total      int
	StartTime  time.Time
	FinishTime time.Time
}
