package id

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
	if id2.Compare(id1) <= 0 {
		t.Error("IDs generated in sequence should sort in order")
	}
}

func TestTypedIDs(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		prefix string
	}{
		{"instance", NewInstanceID().String(), InstancePrefix},
		{"connection", NewConnectionID().String(), ConnectionPrefix},
		{"request", NewRequestID().String(), RequestPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasPrefix(tt.id, tt.prefix+"_") {
				t.Errorf("ID should start with '%s_', got: %s", tt.prefix, tt.id)
			}
			if !Valid(tt.id) {
				t.Errorf("ID should carry a valid ULID: %s", tt.id)
			}
		})
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "inst", "inst_", "inst_not-a-ulid"} {
		if Valid(s) {
			t.Errorf("Valid(%q) = true, want false", s)
		}
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := NewInstanceID()

	ts, err := Timestamp(id.String())
	if err != nil {
		t.Fatalf("Timestamp() error = %v", err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("Timestamp() = %v, outside expected window", ts)
	}
}

func TestSequenceConcurrent(t *testing.T) {
	var seq Sequence
	const workers, each = 8, 100

	var (
		mu   sync.Mutex
		seen = make(map[int]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				n := seq.Next()
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*each {
		t.Errorf("expected %d unique ids, got %d", workers*each, len(seen))
	}
	if seq.Last() != workers*each {
		t.Errorf("Last() = %d, want %d", seq.Last(), workers*each)
	}
	if seen[0] {
		t.Error("Sequence must start at 1")
	}
}
