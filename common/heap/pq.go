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

package heap

import (
	"encoding/binary"
	"io"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
)

// PriorityQueue is a heap of unique int32 values with float32 weights. The
// queue pops the minimal weight first, or the maximal weight when descending.
type PriorityQueue struct {
	desc   bool
	elems  []Elem[int32, float32]
	lookup mapset.Set[int32]
}

// NewPriorityQueue creates a priority queue.
func NewPriorityQueue(desc bool) *PriorityQueue {
	return &PriorityQueue{
		desc:   desc,
		lookup: mapset.NewSet[int32](),
	}
}

// Len returns the number of elements in the queue.
func (pq *PriorityQueue) Len() int {
	return len(pq.elems)
}

// Push pushes a value with weight. Duplicate values are ignored.
func (pq *PriorityQueue) Push(value int32, weight float32) {
	if pq.lookup.Contains(value) {
		return
	}
	pq.lookup.Add(value)
	pq.elems = append(pq.elems, Elem[int32, float32]{Value: value, Weight: weight})
	pq.up(len(pq.elems) - 1)
}

// Peek returns the top of the queue without removing it.
func (pq *PriorityQueue) Peek() (int32, float32) {
	elem := pq.elems[0]
	return elem.Value, elem.Weight
}

// Pop removes and returns the top of the queue.
func (pq *PriorityQueue) Pop() (int32, float32) {
	top := pq.elems[0]
	n := len(pq.elems) - 1
	pq.elems[0] = pq.elems[n]
	pq.elems = pq.elems[:n]
	if n > 0 {
		pq.down(0)
	}
	pq.lookup.Remove(top.Value)
	return top.Value, top.Weight
}

// Values returns all values in the queue.
func (pq *PriorityQueue) Values() []int32 {
	values := make([]int32, 0, len(pq.elems))
	for _, elem := range pq.elems {
		values = append(values, elem.Value)
	}
	return values
}

// Elems returns all elements in the queue.
func (pq *PriorityQueue) Elems() []Elem[int32, float32] {
	return pq.elems
}

// Clone deep copies the queue.
func (pq *PriorityQueue) Clone() *PriorityQueue {
	cloned := NewPriorityQueue(pq.desc)
	cloned.elems = make([]Elem[int32, float32], len(pq.elems))
	copy(cloned.elems, pq.elems)
	cloned.lookup = pq.lookup.Clone()
	return cloned
}

// Reverse returns a new queue with the opposite order.
func (pq *PriorityQueue) Reverse() *PriorityQueue {
	reversed := NewPriorityQueue(!pq.desc)
	for _, elem := range pq.elems {
		reversed.Push(elem.Value, elem.Weight)
	}
	return reversed
}

// Marshal writes the queue to a byte stream.
func (pq *PriorityQueue) Marshal(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, pq.desc); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, int64(len(pq.elems))); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, pq.elems))
}

// Unmarshal reads the queue from a byte stream.
func (pq *PriorityQueue) Unmarshal(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &pq.desc); err != nil {
		return errors.Trace(err)
	}
	var count int64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return errors.Trace(err)
	}
	pq.elems = make([]Elem[int32, float32], count)
	if err := binary.Read(r, binary.LittleEndian, pq.elems); err != nil {
		return errors.Trace(err)
	}
	pq.lookup = mapset.NewSet[int32]()
	for _, elem := range pq.elems {
		pq.lookup.Add(elem.Value)
	}
	return nil
}

func (pq *PriorityQueue) less(i, j int) bool {
	if pq.desc {
		return pq.elems[i].Weight > pq.elems[j].Weight
	}
	return pq.elems[i].Weight < pq.elems[j].Weight
}

func (pq *PriorityQueue) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.less(i, parent) {
			break
		}
		pq.elems[i], pq.elems[parent] = pq.elems[parent], pq.elems[i]
		i = parent
	}
}

func (pq *PriorityQueue) down(i int) {
	n := len(pq.elems)
	for {
		left, right := 2*i+1, 2*i+2
		top := i
		if left < n && pq.less(left, top) {
			top = left
		}
		if right < n && pq.less(right, top) {
			top = right
		}
		if top == i {
			return
		}
		pq.elems[i], pq.elems[top] = pq.elems[top], pq.elems[i]
		i = top
	}
}
