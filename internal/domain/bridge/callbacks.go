package bridge

import "sync"

type callbackKey struct {
	source Source
	id     int
}

// callbacks tracks invocations that still owe a reply. An id is registered
// once and consumed once; anything after that is a duplicate or late reply.
type callbacks struct {
	mu      sync.Mutex
	pending map[callbackKey]Event
}

func newCallbacks() *callbacks {
	return &callbacks{pending: make(map[callbackKey]Event)}
}

func (c *callbacks) register(src Source, id int, ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := callbackKey{src, id}
	if _, dup := c.pending[k]; dup {
		return false
	}
	c.pending[k] = ev
	return true
}

func (c *callbacks) consume(src Source, id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := callbackKey{src, id}
	if _, ok := c.pending[k]; !ok {
		return false
	}
	delete(c.pending, k)
	return true
}

// forget drops every pending callback of src and returns how many.
func (c *callbacks) forget(src Source) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.pending {
		if k.source == src {
			delete(c.pending, k)
			n++
		}
	}
	return n
}

func (c *callbacks) reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.pending)
	c.pending = make(map[callbackKey]Event)
	return n
}

func (c *callbacks) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
