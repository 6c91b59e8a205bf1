package program

import (
	"fmt"

	"github.com/example/go-aotcheck/internal/graph"
)

// Plan lowers a graph into a method. Every node value gets a slot; a slot
// is returned to the free list after the last instruction reading it, so
// long graphs run with a small working set. Constant slots are pinned since
// they are loaded once before execution.
func Plan(g *graph.Graph, name string) (Method, error) {
	if err := graph.Validate(g); err != nil {
		return Method{}, err
	}

	const forever = int(^uint(0) >> 1)

	lastUse := make([]int, len(g.Nodes))
	for i := range lastUse {
		lastUse[i] = -1
	}

	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			lastUse[in] = int(n.ID)
		}
	}

	for _, r := range g.Output.Refs {
		lastUse[r] = forever
	}

	m := Method{Name: name, Output: g.Output.Spec}
	slots := make([]int, len(g.Nodes))

	var free []int

	alloc := func() int {
		if k := len(free); k > 0 {
			s := free[k-1]
			free = free[:k-1]

			return s
		}

		m.NumSlots++

		return m.NumSlots - 1
	}

	release := func(r graph.Ref) {
		if g.Nodes[r].Op != graph.OpConst {
			free = append(free, slots[r])
		}
	}

	// Inputs and constants are all live before the first instruction.
	for _, n := range g.Nodes {
		switch n.Op {
		case graph.OpInput:
			slots[n.ID] = alloc()
			m.InputSlots = append(m.InputSlots, slots[n.ID])
			m.InputShapes = append(m.InputShapes, append([]int64{}, n.Shape...))
		case graph.OpConst:
			slots[n.ID] = alloc()
			m.Constants = append(m.Constants, ConstBinding{Name: n.Attrs.Name, Slot: slots[n.ID]})
		}
	}

	for _, n := range g.Nodes {
		if n.Op == graph.OpInput && lastUse[n.ID] < 0 {
			release(n.ID)
		}
	}

	for _, n := range g.Nodes {
		if n.Op == graph.OpInput || n.Op == graph.OpConst {
			continue
		}

		ins := Instruction{Op: n.Op, Output: alloc(), Attrs: n.Attrs}
		slots[n.ID] = ins.Output

		seen := make(map[graph.Ref]bool, len(n.Inputs))
		for _, in := range n.Inputs {
			ins.Inputs = append(ins.Inputs, slots[in])

			if lastUse[in] == int(n.ID) && !seen[in] {
				release(in)
			}

			seen[in] = true
		}

		if lastUse[n.ID] < 0 {
			release(n.ID)
		}

		m.Instructions = append(m.Instructions, ins)
	}

	for _, r := range g.Output.Refs {
		m.OutputSlots = append(m.OutputSlots, slots[r])
	}

	if len(m.InputSlots) != len(g.Inputs) {
		return Method{}, fmt.Errorf("program: planned %d inputs, graph has %d", len(m.InputSlots), len(g.Inputs))
	}

	return m, nil
}

// FromGraph builds a single-method graph program.
func FromGraph(g *graph.Graph, method string) (*Program, error) {
	m, err := Plan(g, method)
	if err != nil {
		return nil, err
	}

	p := &Program{
		Version:   Version,
		Format:    FormatGraph,
		Methods:   []Method{m},
		Constants: g.Constants,
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}
