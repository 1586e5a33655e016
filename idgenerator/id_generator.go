// Package idgenerator hands out session identifiers.
package idgenerator

import "sync/atomic"

// IdGenerator produces increasing uint32 ids. Zero is reserved to mean "no
// id" and is skipped when the counter wraps. Safe for concurrent use.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates a generator whose first Next returns startValue+1
// (or 1 if that would be zero).
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Next returns the next id. It never returns 0.
func (g *IdGenerator) Next() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}
