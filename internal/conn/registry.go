package conn

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/nawkwoo/voice-chat/internal/protocol"
)

var (
	ErrDuplicateHandle = errors.New("connection handle already registered")
	ErrNotConnected    = errors.New("not connected")
)

// Sink is the outbound half of a connection. Implementations must tolerate
// being called after the underlying transport is gone and return an error.
type Sink interface {
	WriteMessage(msg any) error
	Close() error
}

// Finalizer runs session teardown when a connection goes away. The registry
// guarantees it fires at most once per connection even when an explicit end
// races a transport disconnect.
type Finalizer func(userID, sessionID string)

// Conn is one live websocket client bound to a user and session.
type Conn struct {
	Handle    string
	UserID    string
	SessionID string

	sink Sink

	writeMu   sync.Mutex
	busy      atomic.Bool
	finalized atomic.Bool
}

// Send writes one frame through the sink under the connection's write lock so
// concurrent producers never interleave frames.
func (c *Conn) Send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sink.WriteMessage(msg); err != nil {
		return ErrNotConnected
	}
	return nil
}

// TryAcquireTurn claims the connection's single in-flight turn slot. Callers
// that get false must reject the new audio rather than queue it.
func (c *Conn) TryAcquireTurn() bool {
	return c.busy.CompareAndSwap(false, true)
}

func (c *Conn) ReleaseTurn() {
	c.busy.Store(false)
}

// Registry tracks live connections by opaque handle.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Conn
	finalizer Finalizer
}

func NewRegistry(finalizer Finalizer) *Registry {
	return &Registry{
		conns:     make(map[string]*Conn),
		finalizer: finalizer,
	}
}

// Register binds a sink under handle and notifies the client it is connected.
func (r *Registry) Register(handle, userID, sessionID string, sink Sink) (*Conn, error) {
	c := &Conn{
		Handle:    handle,
		UserID:    userID,
		SessionID: sessionID,
		sink:      sink,
	}

	r.mu.Lock()
	if _, ok := r.conns[handle]; ok {
		r.mu.Unlock()
		return nil, ErrDuplicateHandle
	}
	r.conns[handle] = c
	r.mu.Unlock()

	if err := c.Send(protocol.Info{
		Type:      protocol.TypeInfo,
		Message:   "connected",
		SessionID: sessionID,
	}); err != nil {
		log.Printf("conn: initial notification to %s failed: %v", handle, err)
	}
	return c, nil
}

// Unregister removes the connection and runs the finalizer exactly once.
// Safe to call multiple times and for unknown handles.
func (r *Registry) Unregister(handle string) {
	r.mu.Lock()
	c, ok := r.conns[handle]
	if ok {
		delete(r.conns, handle)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.finalize(c)
}

// Finalize runs the finalizer for a still-registered connection without
// removing it, deduplicated against the disconnect path.
func (r *Registry) Finalize(handle string) {
	r.mu.RLock()
	c, ok := r.conns[handle]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.finalize(c)
}

func (r *Registry) finalize(c *Conn) {
	if !c.finalized.CompareAndSwap(false, true) {
		return
	}
	if r.finalizer != nil {
		r.finalizer(c.UserID, c.SessionID)
	}
}

// Send delivers one frame to the connection registered under handle.
func (r *Registry) Send(handle string, msg any) error {
	r.mu.RLock()
	c, ok := r.conns[handle]
	r.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	return c.Send(msg)
}

func (r *Registry) Get(handle string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[handle]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
