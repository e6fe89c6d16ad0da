// Package streaming implements the StreamingBridge: a
// producer/consumer routine pair that forwards provider deltas to an
// HTTP responder while guaranteeing the full accumulated text is always
// computed, even past caller disconnect.
package streaming

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/conduit/pkg/providers"
)

// Frame is one unit the bridge emits to its consumer: either a text
// delta or a terminal frame (Done) carrying a provider error or the
// cancellation cause. A stream that ends normally emits no terminal
// frame; the channel is simply closed.
type Frame struct {
	Delta   string
	Done    bool
	Partial bool // true if Done was reached via provider error or cancellation
	Err     error
}

// Bridge forwards provider.StreamDelta values from a producer routine
// to a bounded channel of Frames read by the HTTP responder, while a
// second internal accumulator always runs to completion regardless of
// whether the consumer keeps reading.
type Bridge struct {
	out chan Frame

	mu           sync.Mutex
	accumulated  strings.Builder
	partial      bool
	finalErr     error
	done         chan struct{}
}

// NewBridge builds a Bridge with a channel buffer sized for typical
// token-sized deltas without blocking the producer on a slow consumer.
func NewBridge() *Bridge {
	return &Bridge{
		out:  make(chan Frame, 64),
		done: make(chan struct{}),
	}
}

// Frames returns the channel the HTTP responder reads from.
func (b *Bridge) Frames() <-chan Frame {
	return b.out
}

// Run drives deltas from src to completion. It always drains src and
// returns only once src closes. If ctx is cancelled first, it emits one
// terminal frame and stops publishing, but still accumulates the
// remaining deltas from src.
func (b *Bridge) Run(ctx context.Context, src <-chan providers.StreamDelta) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(b.out)
		defer close(b.done)

		for {
			select {
			case delta, ok := <-src:
				if !ok {
					b.finalize(false, nil)
					return nil
				}
				if delta.Err != nil {
					b.finalize(true, delta.Err)
					b.emit(Frame{Err: delta.Err, Done: true, Partial: true})
					b.drain(src)
					return nil
				}
				b.accumulate(delta.Text)
				b.emit(Frame{Delta: delta.Text})
			case <-gctx.Done():
				b.finalize(true, gctx.Err())
				b.emit(Frame{Done: true, Partial: true, Err: gctx.Err()})
				b.drain(src)
				return nil
			}
		}
	})

	_ = g.Wait()
}

// drain continues reading src to completion without emitting further
// Frames, so the producer's own goroutine can exit cleanly and the
// accumulated text reflects everything the provider sent even after
// the bridge has stopped publishing.
func (b *Bridge) drain(src <-chan providers.StreamDelta) {
	for delta := range src {
		if delta.Err == nil {
			b.accumulate(delta.Text)
		}
	}
}

func (b *Bridge) accumulate(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accumulated.WriteString(text)
}

func (b *Bridge) finalize(partial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partial = partial
	b.finalErr = err
}

// emit publishes f to the consumer channel, backpressuring the producer
// loop when the consumer falls behind. The accumulator already recorded the delta before
// emit is called, so a slow or gone consumer never loses text from
// Accumulated() even though it may stop seeing live Frames once ctx is
// cancelled (after its one terminal Frame, the cancellation branch in Run
// stops calling emit).
func (b *Bridge) emit(f Frame) {
	b.out <- f
}

// Accumulated blocks until Run has finished (src closed, or cancelled
// and drained) and returns the full text received plus whether it is
// partial (provider error or cancellation mid-stream).
func (b *Bridge) Accumulated() (string, bool, error) {
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accumulated.String(), b.partial, b.finalErr
}
