package gossip

import (
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// Random picks indices for shuffling and helper selection.
type Random interface {
	// Intn returns a value in [0, n). n is always positive.
	Intn(n int) int
}

// IDGenerator produces unique member ids.
type IDGenerator interface {
	NewID() string
}

// Executor runs event handlers off the protocol lock.
// *ants.Pool satisfies it.
type Executor interface {
	Submit(task func()) error
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandom returns a Random seeded with seed.
func NewRandom(seed uint64) Random {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// UUIDGenerator generates random (v4) UUID strings.
type UUIDGenerator struct{}

// NewID returns a new UUID string.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// inlineExecutor runs tasks on the calling goroutine.
type inlineExecutor struct{}

func (inlineExecutor) Submit(task func()) error {
	task()
	return nil
}
