package dag

import "github.com/glogos/glogos/internal/protocol"

// FindCycle returns one reference cycle in g as a path whose last element
// refers back to the first, or nil. Strict causal ordering on every link
// rules cycles out, so this only fires on sets that also carry
// RESOLVED-INVALID links.
func FindCycle(g *Graph) []protocol.AttestationID {
	const (
		white = iota
		gray
		black
	)
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]protocol.AttestationID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)

	color := make(map[protocol.AttestationID]int, len(g.nodes))
	type frame struct {
		id   protocol.AttestationID
		next int
	}
	for _, root := range ids {
		if color[root] != white {
			continue
		}
		stack := []frame{{id: root}}
		color[root] = gray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			refs := g.nodes[top.id].Refs
			if top.next >= len(refs) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			ref := refs[top.next]
			top.next++
			if ref.IsRoot() {
				continue
			}
			if _, ok := g.nodes[ref]; !ok {
				continue
			}
			switch color[ref] {
			case white:
				color[ref] = gray
				stack = append(stack, frame{id: ref})
			case gray:
				start := 0
				for i := range stack {
					if stack[i].id == ref {
						start = i
						break
					}
				}
				cycle := make([]protocol.AttestationID, 0, len(stack)-start)
				for _, f := range stack[start:] {
					cycle = append(cycle, f.id)
				}
				return cycle
			}
		}
	}
	return nil
}
