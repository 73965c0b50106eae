// Path: internal/events/handle.go
package events

import "sync"

// Handle is the live output side of a channel, owned by the process that
// accepted the connection. Write must not block on the client; it only
// reports whether the frame was accepted locally. Close returns
// ErrHandleClosed when called more than once.
//
// Handles are compared by identity, so implementations should be pointers.
type Handle interface {
	Write(frame []byte) error
	Close() error
}

// QueueHandle is a Handle backed by a bounded queue. The transport drains
// Frames and stops when Done is closed.
type QueueHandle struct {
	frames chan []byte
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewQueueHandle creates a handle buffering up to size frames.
func NewQueueHandle(size int) *QueueHandle {
	if size <= 0 {
		size = 1
	}
	return &QueueHandle{
		frames: make(chan []byte, size),
		done:   make(chan struct{}),
	}
}

// Write enqueues a frame without blocking. A full queue counts as a failed
// write, the same as a closed one.
func (h *QueueHandle) Write(frame []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHandleClosed
	}
	select {
	case h.frames <- frame:
		return nil
	default:
		return ErrHandleFull
	}
}

// Close marks the handle closed and releases the transport.
func (h *QueueHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHandleClosed
	}
	h.closed = true
	close(h.done)
	return nil
}

// Frames yields accepted frames in order.
func (h *QueueHandle) Frames() <-chan []byte {
	return h.frames
}

// Done is closed once the handle is closed.
func (h *QueueHandle) Done() <-chan struct{} {
	return h.done
}
