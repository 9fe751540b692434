package plan

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Ordering errors.
var (
	ErrUnknownRequirement = errors.New("requires unknown descriptor")
	ErrCyclicRequirement  = errors.New("cyclic requirement detected")
	ErrPhaseInversion     = errors.New("repository bootstrap cannot require a later-phase descriptor")
)

// Order returns the install order: every phase-0 descriptor before any
// phase-1 descriptor, requirements before dependents, and declaration order
// between otherwise unconstrained descriptors.
func (p *Plan) Order() ([]Descriptor, error) {
	idx, err := p.order()
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, len(idx))
	for i, j := range idx {
		out[i] = p.descriptors[j].Clone()
	}
	return out, nil
}

// Phases groups Order by barrier phase.
func (p *Plan) Phases() ([][]Descriptor, error) {
	ordered, err := p.Order()
	if err != nil {
		return nil, err
	}
	var phases [][]Descriptor
	current := -1
	for _, d := range ordered {
		if ph := d.Method.Phase(); ph != current {
			phases = append(phases, nil)
			current = ph
		}
		phases[len(phases)-1] = append(phases[len(phases)-1], d)
	}
	return phases, nil
}

// order runs Kahn's algorithm over (phase, requirements) with the
// declaration index as priority, so the result is stable.
func (p *Plan) order() ([]int, error) {
	n := len(p.descriptors)
	inDegree := make([]int, n)
	dependents := make([][]int, n)

	for i, d := range p.descriptors {
		for _, req := range d.Requires {
			j, ok := p.index[req]
			if !ok {
				return nil, fmt.Errorf("%s: %w %q", d.Name, ErrUnknownRequirement, req)
			}
			if p.descriptors[j].Method.Phase() > d.Method.Phase() {
				return nil, fmt.Errorf("%s: %w (%s)", d.Name, ErrPhaseInversion, req)
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	ready := &indexHeap{less: func(a, b int) bool {
		pa, pb := p.descriptors[a].Method.Phase(), p.descriptors[b].Method.Phase()
		if pa != pb {
			return pa < pb
		}
		return a < b
	}}
	for i := range p.descriptors {
		if inDegree[i] == 0 {
			heap.Push(ready, i)
		}
	}

	sorted := make([]int, 0, n)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		sorted = append(sorted, i)
		for _, dep := range dependents[i] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}

	if len(sorted) != n {
		var stuck []string
		for i, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, p.descriptors[i].Name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w among %s", ErrCyclicRequirement, strings.Join(stuck, ", "))
	}

	return sorted, nil
}

type indexHeap struct {
	items []int
	less  func(a, b int) bool
}

func (h *indexHeap) Len() int           { return len(h.items) }
func (h *indexHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *indexHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *indexHeap) Push(x any)         { h.items = append(h.items, x.(int)) }
func (h *indexHeap) Pop() any {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}
