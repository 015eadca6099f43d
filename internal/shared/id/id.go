// Package id provides identifier generation for the host runtime.
//
// Two families of identifiers are used:
//   - Prefixed ULIDs for long-lived, externally visible handles (instances,
//     renderer connections, requests). They sort by creation time and the
//     prefix keeps logs readable.
//   - Monotonic integer sequences for ids that cross the bridge wire format
//     (page ids, surface ids), where the protocol carries plain integers.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// InstanceID identifies one running application instance
type InstanceID string

// ConnectionID identifies a renderer socket connection
type ConnectionID string

// RequestID identifies a control API request
type RequestID string

const (
	InstancePrefix   = "inst"
	ConnectionPrefix = "conn"
	RequestPrefix    = "req"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic
// ordering inside the same millisecond.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewInstanceID generates a new instance ID
func NewInstanceID() InstanceID {
	return InstanceID(Default().GenerateWithPrefix(InstancePrefix))
}

// NewConnectionID generates a new connection ID
func NewConnectionID() ConnectionID {
	return ConnectionID(Default().GenerateWithPrefix(ConnectionPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id InstanceID) String() string   { return string(id) }
func (id ConnectionID) String() string { return string(id) }
func (id RequestID) String() string    { return string(id) }

// Valid reports whether a prefixed id carries a parseable ULID.
func Valid(prefixed string) bool {
	i := strings.IndexByte(prefixed, '_')
	if i < 0 {
		return false
	}
	_, err := ulid.Parse(prefixed[i+1:])
	return err == nil
}

// Timestamp extracts the creation time of a prefixed id.
func Timestamp(prefixed string) (time.Time, error) {
	i := strings.IndexByte(prefixed, '_')
	parsed, err := ulid.Parse(prefixed[i+1:])
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// ============================================================================
// Integer Sequences
// ============================================================================

// Sequence hands out strictly increasing integer ids starting at 1.
// The zero value is ready to use and safe for concurrent use.
type Sequence struct {
	n atomic.Int64
}

// Next returns the next id
func (s *Sequence) Next() int {
	return int(s.n.Add(1))
}

// Last returns the most recently issued id, or 0.
func (s *Sequence) Last() int {
	return int(s.n.Load())
}
