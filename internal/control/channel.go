// Package control provides the ordered multi-producer/single-consumer
// command queue between the trigger sources and the session engine.
package control

import (
	"sync"

	"github.com/soundloop/continuo/sdk/contracts"
)

// Channel is an unbounded ordered MPSC queue of discrete commands. Producers
// push from the key listener, the remote adapter and any status observer;
// the engine drains everything pending at each polling tick without ever
// blocking, so duration and clock-boundary checks are never starved.
type Channel struct {
	mu      sync.Mutex
	pending []contracts.Command
}

// NewChannel creates an empty command queue.
func NewChannel() *Channel {
	return &Channel{}
}

// Push enqueues one command. Never blocks.
func (c *Channel) Push(cmd contracts.Command) {
	c.mu.Lock()
	c.pending = append(c.pending, cmd)
	c.mu.Unlock()
}

// Drain removes and returns all pending commands in submission order.
// Returns nil when nothing is pending.
func (c *Channel) Drain() []contracts.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	out := c.pending
	c.pending = nil
	return out
}

// Len returns the number of pending commands.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
