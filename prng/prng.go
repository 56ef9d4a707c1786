// Package prng provides the pseudo random number generator behind every
// random decision of the engine. Its state can be saved into and restored
// from a trace so that replayed runs draw the same numbers.
package prng

import (
	"bytes"
	"encoding/gob"
	"log"

	"golang.org/x/exp/rand"
)

// PRNG is a seeded PCG generator.
type PRNG struct {
	seed uint64
	src  *rand.PCGSource
}

// New creates a generator seeded with seed.
func New(seed uint64) *PRNG {
	p := &PRNG{src: &rand.PCGSource{}}
	p.Seed(seed)

	return p
}

// Seed resets the generator.
func (p *PRNG) Seed(seed uint64) {
	p.seed = seed
	p.src.Seed(seed)
}

// InitialSeed returns the seed the generator was last reset with.
func (p *PRNG) InitialSeed() uint64 {
	return p.seed
}

// Next returns the next 32 random bits.
func (p *PRNG) Next() uint64 {
	return p.src.Uint64() & 0xFFFFFFFF
}

// Range returns a number in [min, max).
func (p *PRNG) Range(min, max uint64) uint64 {
	if max <= min {
		log.Panicf("prng: empty range [%d, %d)", min, max)
	}

	return min + p.Next()%(max-min)
}

// Real returns a number in [0, 1].
func (p *PRNG) Real() float64 {
	return float64(p.Next()) / float64(0xFFFFFFFF)
}

// State is the serializable form of a generator.
type State struct {
	Seed uint64
	PCG  []byte
}

// Snapshot captures the generator state.
func (p *PRNG) Snapshot() State {
	pcg, err := p.src.MarshalBinary()
	if err != nil {
		log.Panicf("prng: cannot marshal state: %v", err)
	}

	return State{Seed: p.seed, PCG: pcg}
}

// Restore brings the generator back to a snapshot.
func (p *PRNG) Restore(s State) error {
	if p.src == nil {
		p.src = &rand.PCGSource{}
	}

	p.seed = s.Seed

	if len(s.PCG) == 0 {
		p.src.Seed(s.Seed)
		return nil
	}

	return p.src.UnmarshalBinary(s.PCG)
}

// GobEncode saves the generator state into a trace.
func (p *PRNG) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p.Snapshot()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode restores the generator state from a trace.
func (p *PRNG) GobDecode(data []byte) error {
	var s State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}

	return p.Restore(s)
}
