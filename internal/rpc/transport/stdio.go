// Package transport carries newline-delimited JSON-RPC frames over stdio.
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
)

// ErrClosed is returned when using a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport moves raw frames. Send is safe for concurrent use; Receive is
// called from a single reader goroutine.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Stdio frames messages as single lines on a reader/writer pair,
// stdin/stdout by default.
type Stdio struct {
	scanner *bufio.Scanner
	out     io.Writer

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// NewStdio creates a transport over os.Stdin and os.Stdout.
func NewStdio() *Stdio {
	return NewStdioWithIO(os.Stdin, os.Stdout)
}

// NewStdioWithIO creates a transport over arbitrary streams (for tests).
func NewStdioWithIO(in io.Reader, out io.Writer) *Stdio {
	scanner := bufio.NewScanner(in)
	// Large prompts and memory exports can exceed the default token size.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Stdio{scanner: scanner, out: out}
}

// Send writes one frame followed by a newline. Concurrent senders
// serialize on the write lock so frames never interleave.
func (t *Stdio) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.out.Write(data); err != nil {
		return err
	}
	_, err := t.out.Write([]byte{'\n'})
	return err
}

// Receive blocks for the next frame. Cancellation returns early; the
// underlying read finishes in the background and is discarded.
func (t *Stdio) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	type scanResult struct {
		data []byte
		err  error
	}
	ch := make(chan scanResult, 1)

	go func() {
		if t.scanner.Scan() {
			// The scanner reuses its buffer; copy out.
			data := make([]byte, len(t.scanner.Bytes()))
			copy(data, t.scanner.Bytes())
			ch <- scanResult{data: data}
			return
		}
		err := t.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		ch <- scanResult{err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.data, res.err
	}
}

// Close marks the transport closed. The underlying streams are the
// process's stdio and are not closed here.
func (t *Stdio) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
