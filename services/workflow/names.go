package workflow

import (
	"fmt"
	"io"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NameGenerator issues secret names of the form secret-{requestID}-{ULID}.
// ULIDs from one generator are strictly increasing, so two names never collide
// even when approvals of different requests land in the same millisecond.
type NameGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewNameGenerator creates a generator seeded from the clock
func NewNameGenerator() *NameGenerator {
	return &NameGenerator{
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
		now:     time.Now,
	}
}

// Next returns a fresh name for the given request
func (g *NameGenerator) Next(requestID int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	return fmt.Sprintf("secret-%d-%s", requestID, id.String())
}
