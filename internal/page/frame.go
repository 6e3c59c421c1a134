package page

import (
	"context"
	"errors"
	"net/url"
	"sync"
)

// ErrClosed is returned once a page session has been closed.
var ErrClosed = errors.New("page session closed")

// FrameKind tells the stream how to deliver a Frame.
type FrameKind int

const (
	// FrameScript executes JavaScript in the page (map surface calls).
	FrameScript FrameKind = iota
	// FramePatch replaces the element matched by Selector with HTML.
	FramePatch
	// FrameSignals merges Signals into the page signals.
	FrameSignals
	// FrameQuery replaces the page URL query string with Query.
	FrameQuery
)

// Frame is one UI update produced by the controller.
type Frame struct {
	Kind     FrameKind
	Script   string
	HTML     string
	Selector string
	Signals  map[string]any
	Query    url.Values
}

// outbox queues frames from the event loop to the stream. Pushing never
// blocks; frames produced before a stream attaches are kept.
type outbox struct {
	mu     sync.Mutex
	frames []Frame
	wake   chan struct{}
	closed bool
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

func (o *outbox) push(f Frame) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.frames = append(o.frames, f)
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
}

// next blocks until frames are queued and returns all of them. It returns
// ErrClosed once the outbox is closed and drained.
func (o *outbox) next(ctx context.Context) ([]Frame, error) {
	for {
		o.mu.Lock()
		if len(o.frames) > 0 {
			out := o.frames
			o.frames = nil
			o.mu.Unlock()
			return out, nil
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-o.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
