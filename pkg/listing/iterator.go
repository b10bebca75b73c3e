package listing

import (
	"context"
	"errors"
	"iter"
	"sync"

	"google.golang.org/api/iterator"

	"github.com/systmms/dsstore/pkg/errkind"
)

// Done is returned by Iterator.Next when the sequence is exhausted.
var Done = iterator.Done

// ErrClosed is returned by Iterator.Next after Close.
var ErrClosed = errors.New("listing: iterator closed")

// PageFunc fetches the page addressed by token. An empty next token marks
// the last page.
type PageFunc[T any] func(ctx context.Context, token string) (items []T, next string, err error)

// Iterator is a lazy, finite sequence over a paginated listing. It holds at
// most one page and one continuation token. An Iterator cannot be rewound;
// start over by asking the Coordinator for a new one.
//
// Iteration gives no snapshot isolation. Every item present before the
// first Next and not deleted during iteration is yielded exactly once.
// Items created or deleted concurrently may or may not appear.
//
// A caller that stops before the end calls Close. Breaking out of a range
// over All closes the iterator.
//
// An Iterator is not safe for concurrent use.
type Iterator[T any] struct {
	fetch PageFunc[T]

	buf     []T
	token   string
	started bool
	err     error
	pages   int
	closed  bool

	onDone   func(error)
	doneOnce sync.Once
}

// NewIterator wraps fetch. No page is requested until the first Next.
func NewIterator[T any](fetch PageFunc[T]) *Iterator[T] {
	return &Iterator[T]{fetch: fetch}
}

// OnDone registers fn to run once when the iterator reaches its terminal
// state: exhaustion or Close (fn(nil)) or failure (fn(err)).
func (it *Iterator[T]) OnDone(fn func(error)) *Iterator[T] {
	it.onDone = fn
	return it
}

// Next returns the next item, Done at the end of the sequence, or the error
// that stopped it. Once Next has returned a non-nil error it keeps
// returning that error.
func (it *Iterator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		if it.err != nil {
			return zero, it.err
		}
		if len(it.buf) > 0 {
			item := it.buf[0]
			it.buf = it.buf[1:]
			return item, nil
		}
		if it.started && it.token == "" {
			it.finish(Done)
			return zero, Done
		}

		items, next, err := it.fetch(ctx, it.token)
		if err != nil {
			it.finish(err)
			return zero, err
		}
		if next != "" && next == it.token {
			it.finish(errkind.Newf(errkind.Unknown, "list", "", "page token %q did not advance", next))
			return zero, it.err
		}
		it.started = true
		it.pages++
		it.token = next
		it.buf = items
	}
}

// All adapts the iterator to a range-over-func sequence. Iteration stops at
// the end of the listing or after yielding the first error.
func (it *Iterator[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, err := it.Next(ctx)
			if err == Done {
				return
			}
			if err != nil {
				yield(item, err)
				return
			}
			if !yield(item, nil) {
				it.Close()
				return
			}
		}
	}
}

// Collect drains the iterator into a slice.
func (it *Iterator[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for item, err := range it.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Close ends iteration early. It is a no-op once the iterator has reached
// its terminal state.
func (it *Iterator[T]) Close() {
	if it.err != nil {
		return
	}
	it.closed = true
	it.finish(ErrClosed)
}

// Abandoned reports whether Close ended the iteration before the end of the
// listing.
func (it *Iterator[T]) Abandoned() bool { return it.closed }

// Pages returns how many pages were fetched so far.
func (it *Iterator[T]) Pages() int { return it.pages }

func (it *Iterator[T]) finish(err error) {
	it.err = err
	it.buf = nil
	it.doneOnce.Do(func() {
		if it.onDone == nil {
			return
		}
		if err == Done || err == ErrClosed {
			it.onDone(nil)
		} else {
			it.onDone(err)
		}
	})
}
