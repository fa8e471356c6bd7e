package match

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// SelectionPolicy picks the two queue positions to pair. Pick is only called
// with n >= 2 and must return two distinct indices in [0, n). The first index
// becomes the player who moves first.
type SelectionPolicy interface {
	Pick(n int) (first, second int)
}

// FIFO pairs the two longest-waiting players.
type FIFO struct{}

func (FIFO) Pick(int) (int, int) { return 0, 1 }

// Random pairs two uniformly chosen players. It is not safe for concurrent
// use; the queue only calls it from its own goroutine.
type Random struct {
	rng *rand.Rand
}

func NewRandom(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed, 1))}
}

// Pick draws the second index from the n-1 slots left after the first, so
// the two never collide and no retry is needed.
func (r *Random) Pick(n int) (int, int) {
	first := r.rng.IntN(n)
	second := r.rng.IntN(n - 1)
	if second >= first {
		second++
	}
	return first, second
}

// PolicyByName maps a config value to a policy.
func PolicyByName(name string) (SelectionPolicy, error) {
	switch name {
	case "", "fifo":
		return FIFO{}, nil
	case "random":
		return NewRandom(uint64(time.Now().UnixNano())), nil
	default:
		return nil, fmt.Errorf("unknown pairing policy %q", name)
	}
}
