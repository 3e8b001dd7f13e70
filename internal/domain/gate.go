package domain

import "math/rand/v2"

// Gate drops a fixed share of eligible posts so reply volume does not track
// the number of matches.
type Gate struct {
	skipProbability float64
	draw            func() float64
}

// NewGate creates a gate that skips with probability p. A nil draw uses
// math/rand/v2.
func NewGate(p float64, draw func() float64) *Gate {
	if draw == nil {
		draw = rand.Float64
	}
	return &Gate{skipProbability: p, draw: draw}
}

// Skip draws once and reports whether the post should be skipped.
func (g *Gate) Skip() bool {
	return g.draw() < g.skipProbability
}
