package mocks

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/vidtalk/internal/core"
)

var (
	ErrConnFull   = errors.New("send queue full")
	ErrConnClosed = errors.New("connection closed")
)

// Conn is an in-memory core.SignalConnection that records every frame
// queued to it.
type Conn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

var _ core.SignalConnection = (*Conn)(nil)

func NewConn() *Conn { return &Conn{} }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrConnClosed
	case c.full:
		return ErrConnFull
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// SetFull makes subsequent sends fail with back-pressure.
func (c *Conn) SetFull(full bool) {
	c.mu.Lock()
	c.full = full
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// Frame is a decoded outbound envelope.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *Conn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, 0, len(c.frames))
	for _, raw := range c.frames {
		var f Frame
		_ = json.Unmarshal(raw, &f)
		out = append(out, f)
	}
	return out
}

// Types lists the event names received, in order.
func (c *Conn) Types() []string {
	frames := c.Frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

// Last decodes the data of the most recent frame named typ into v.
func (c *Conn) Last(typ string, v any) bool {
	frames := c.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == typ {
			return json.Unmarshal(frames[i].Data, v) == nil
		}
	}
	return false
}

// Count reports how many frames named typ were received.
func (c *Conn) Count(typ string) int {
	n := 0
	for _, f := range c.Frames() {
		if f.Type == typ {
			n++
		}
	}
	return n
}
