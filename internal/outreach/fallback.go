package outreach

import (
	"math/rand/v2"
	"sync"
)

// Rand is the random source used to pick a template. *rand.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// lockedRand makes a non-concurrent source safe to share between requests.
type lockedRand struct {
	mu  sync.Mutex
	src Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.IntN(n)
}

// RenderFallback produces a template message for p. It picks uniformly from
// the pool of the profile's category using r (nil means the process-wide
// source) and never fails.
func RenderFallback(p Profile, r Rand) string {
	if r == nil {
		r = globalRand{}
	}
	pool := Pool(classifyForFallback(p))
	tmpl := pool[r.IntN(len(pool))]
	return ResolveVars(p).Render(tmpl)
}
