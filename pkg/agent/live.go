package agent

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/genai"
)

var ErrQueueClosed = errors.New("live request queue closed")

// LiveRequest is one client message in a duplex session. Exactly one field is
// expected to be set.
type LiveRequest struct {
	Content       *genai.Content `json:"content,omitempty"`
	Blob          *genai.Blob    `json:"blob,omitempty"`
	ActivityStart *struct{}      `json:"activity_start,omitempty"`
	ActivityEnd   *struct{}      `json:"activity_end,omitempty"`
	Close         bool           `json:"close,omitempty"`
}

// LiveRequestQueue carries client messages to a live agent.
type LiveRequestQueue struct {
	ch   chan LiveRequest
	done chan struct{}
	once sync.Once
}

func NewLiveRequestQueue() *LiveRequestQueue {
	return &LiveRequestQueue{
		ch:   make(chan LiveRequest, 64),
		done: make(chan struct{}),
	}
}

// Send enqueues req, blocking while the queue is full.
func (q *LiveRequestQueue) Send(ctx context.Context, req LiveRequest) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- req:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next request. After Close it drains what was queued and
// then returns ErrQueueClosed.
func (q *LiveRequestQueue) Receive(ctx context.Context) (LiveRequest, error) {
	select {
	case req := <-q.ch:
		return req, nil
	default:
	}

	select {
	case req := <-q.ch:
		return req, nil
	case <-q.done:
		select {
		case req := <-q.ch:
			return req, nil
		default:
			return LiveRequest{}, ErrQueueClosed
		}
	case <-ctx.Done():
		return LiveRequest{}, ctx.Err()
	}
}

// Close stops the queue. It is safe to call more than once.
func (q *LiveRequestQueue) Close() {
	q.once.Do(func() { close(q.done) })
}
