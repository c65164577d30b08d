// Package rng implements the deterministic PRNG used by the combat
// simulation. The generator is PCG-XSH-RR 32 with a fixed stream, so two
// processes seeded identically produce identical draw sequences. This is what
// makes event-log replay reproduce initiative rolls and damage rolls exactly.
package rng

const (
	pcgMult = 6364136223846793005
	// Fixed stream increment. Must never change: persisted game states
	// reference draw offsets into this exact sequence.
	pcgInc = 1442695040888963407
)

// RNG is a PCG-XSH-RR 32 generator. Not safe for concurrent use; each
// session's coordinator owns its RNG exclusively.
type RNG struct {
	state uint64
	draws uint64
}

// New returns a generator seeded with the canonical PCG initialization.
func New(seed uint64) *RNG {
	r := &RNG{}
	r.step()
	r.state += seed
	r.step()
	r.draws = 0
	return r
}

func (r *RNG) step() {
	r.state = r.state*pcgMult + pcgInc
}

// NextU32 returns the next 32-bit value in the sequence.
func (r *RNG) NextU32() uint32 {
	old := r.state
	r.step()
	r.draws++
	xorshifted := uint32(((old >> 18) ^ old) >> 27)
	rot := uint32(old >> 59)
	return (xorshifted >> rot) | (xorshifted << ((32 - rot) & 31))
}

// Range returns a value in [lo, hi). Panics if hi <= lo; callers validate
// bounds before rolling.
func (r *RNG) Range(lo, hi int) int {
	if hi <= lo {
		panic("rng: empty range")
	}
	return lo + int(r.NextU32()%uint32(hi-lo))
}

// Roll returns the sum of n rolls of a d-sided die, each in [1, d].
func (r *RNG) Roll(n, d int) int {
	sum := 0
	for range n {
		sum += r.Range(1, d+1)
	}
	return sum
}

// Choice returns a uniformly chosen element of s. Panics on empty slice.
func Choice[T any](r *RNG, s []T) T {
	return s[r.Range(0, len(s))]
}

// Advance skips delta draws in O(log delta) using the PCG jump-ahead
// (exponentiation of the affine step function). Used to rebuild a session's
// generator at the draw offset stored in its game state.
func (r *RNG) Advance(delta uint64) {
	accMult := uint64(1)
	accPlus := uint64(0)
	curMult := uint64(pcgMult)
	curPlus := uint64(pcgInc)
	for rem := delta; rem > 0; rem >>= 1 {
		if rem&1 != 0 {
			accMult *= curMult
			accPlus = accPlus*curMult + curPlus
		}
		curPlus = (curMult + 1) * curPlus
		curMult *= curMult
	}
	r.state = accMult*r.state + accPlus
	r.draws += delta
}

// At returns a generator positioned at the given draw offset of the seed's
// stream. Deterministic operations derive their generator this way and write
// the new Draws() value back into the game state.
func At(seed, draws uint64) *RNG {
	r := New(seed)
	r.Advance(draws)
	return r
}

// Draws reports how many values have been consumed since seeding.
func (r *RNG) Draws() uint64 {
	return r.draws
}
