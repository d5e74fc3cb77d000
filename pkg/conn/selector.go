package conn

import (
	"math/rand"
	"sync/atomic"

	"github.com/usestring/esquery/internal/config"
)

// Selector picks one slot among candidates. candidates is never empty and
// holds indexes into nodes.
type Selector interface {
	Pick(nodes []config.Node, candidates []int) int
}

// NewSelector returns the selector registered under name, falling back to
// uniform random selection for unknown names.
func NewSelector(name string) Selector {
	switch name {
	case config.SelectRoundRobin:
		return &RoundRobin{}
	case config.SelectWeighted:
		return Weighted{}
	default:
		return Random{}
	}
}

// Random picks uniformly.
type Random struct{}

func (Random) Pick(_ []config.Node, candidates []int) int {
	return candidates[rand.Intn(len(candidates))]
}

// RoundRobin cycles through the candidates across calls.
type RoundRobin struct {
	next atomic.Uint64
}

func (r *RoundRobin) Pick(_ []config.Node, candidates []int) int {
	n := r.next.Add(1) - 1
	return candidates[n%uint64(len(candidates))]
}

// Weighted picks with probability proportional to node weight. Nodes
// without a positive weight count as weight 1.
type Weighted struct{}

func (Weighted) Pick(nodes []config.Node, candidates []int) int {
	total := 0
	for _, i := range candidates {
		total += weight(nodes[i])
	}
	n := rand.Intn(total)
	for _, i := range candidates {
		n -= weight(nodes[i])
		if n < 0 {
			return i
		}
	}
	return candidates[len(candidates)-1]
}

func weight(n config.Node) int {
	if n.Weight > 0 {
		return n.Weight
	}
	return 1
}
