package upstream

import "crypto/sha256"

// loopGuard detects an agent stuck emitting the same record. Only
// fragment-bearing records are fed to it, so heartbeats never trip it.
// A non-positive limit disables it.
type loopGuard struct {
	limit   int
	last    [32]byte
	repeats int
}

// repeated reports whether line pushes the run of identical records past
// the limit.
func (g *loopGuard) repeated(line string) bool {
	if g.limit <= 0 {
		return false
	}
	sum := sha256.Sum256([]byte(line))
	if sum == g.last {
		g.repeats++
		return g.repeats >= g.limit
	}
	g.last = sum
	g.repeats = 0
	return false
}
