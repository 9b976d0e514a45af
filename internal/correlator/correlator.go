// Package correlator matches response frames to the requests awaiting them.
package correlator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Response is what a pending request resolves to.
type Response struct {
	Result json.RawMessage
	Err    error

	// NoSub is set when the response is a subscription rejection.
	NoSub bool
}

// Correlator is an arena of pending request slots keyed by uuid.
//
// Each slot holds a channel of capacity one: Resolve is the single writer, Await the single reader.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan Response
}

// New creates an empty correlator.
func New() *Correlator {
	return &Correlator{pending: make(map[string]chan Response)}
}

// Register allocates a fresh id and its completion slot.
func (c *Correlator) Register() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		id := uuid.New().String()
		if _, taken := c.pending[id]; taken {
			continue
		}
		c.pending[id] = make(chan Response, 1)
		return id
	}
}

// Resolve stores resp for id and fires its completion. It returns false when id is unknown or
// was already resolved.
func (c *Correlator) Resolve(id string, resp Response) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.pending[id]
	if !ok {
		return false
	}
	select {
	case ch <- resp:
		return true
	default:
		return false
	}
}

// Await blocks until id is resolved or ctx is done, then removes the slot. Only the caller that
// registered id may await it.
func (c *Correlator) Await(ctx context.Context, id string) (Response, error) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return Response{}, ErrUnknownID
	}

	defer c.Release(id)

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Release drops the slot for id, e.g. when its request frame could not be queued.
func (c *Correlator) Release(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
