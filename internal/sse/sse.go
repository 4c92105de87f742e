// Package sse implements the subset of Server-Sent Events used for research
// progress streaming: named events carrying a single JSON data payload.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Event is one server-sent event. Name maps to the "event:" field and Data
// to the "data:" field.
type Event struct {
	Name string
	Data json.RawMessage
}

// Writer emits events to an http.ResponseWriter, flushing after each one.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares w for event streaming and returns a Writer. It sets the
// streaming headers; callers must not write a body through w afterwards.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, eris.New("sse: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: flusher}, nil
}

// Send marshals payload and writes it as a named event.
func (w *Writer) Send(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "sse: marshal %s event", name)
	}
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return eris.Wrap(err, "sse: write event")
	}
	w.flusher.Flush()
	return nil
}

// Comment writes an SSE comment line, used as a keepalive.
func (w *Writer) Comment(text string) error {
	if _, err := fmt.Fprintf(w.w, ": %s\n\n", text); err != nil {
		return eris.Wrap(err, "sse: write comment")
	}
	w.flusher.Flush()
	return nil
}

// ReadTimeoutError reports a stream that produced no event within the
// per-read deadline.
type ReadTimeoutError struct {
	Timeout time.Duration
}

func (e *ReadTimeoutError) Error() string {
	return fmt.Sprintf("sse: no event within %s", e.Timeout)
}

// StreamTimeoutError reports a stream that exceeded its total lifetime
// deadline.
type StreamTimeoutError struct {
	Timeout time.Duration
}

func (e *StreamTimeoutError) Error() string {
	return fmt.Sprintf("sse: stream exceeded %s", e.Timeout)
}

type scanLine struct {
	text string
	err  error
}

// Reader decodes events from a stream. It enforces a per-event timeout (no
// complete event for too long) and a total stream timeout. Reads are pumped
// through a goroutine raced against the deadline timers, so a timeout fires
// even while the underlying Read is blocked; firing closes the source when
// it implements io.Closer, which cancels the blocked read.
type Reader struct {
	lines        chan scanLine
	done         chan struct{}
	closer       io.Closer
	readTimeout  time.Duration
	totalTimeout time.Duration
	started      time.Time
	abortOnce    sync.Once
}

// NewReader wraps r in an event decoder and starts its read pump.
func NewReader(r io.Reader, readTimeout, totalTimeout time.Duration) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	reader := &Reader{
		lines:        make(chan scanLine),
		done:         make(chan struct{}),
		readTimeout:  readTimeout,
		totalTimeout: totalTimeout,
		started:      time.Now(),
	}
	if c, ok := r.(io.Closer); ok {
		reader.closer = c
	}

	go func() {
		defer close(reader.lines)
		for scanner.Scan() {
			select {
			case reader.lines <- scanLine{text: scanner.Text()}:
			case <-reader.done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case reader.lines <- scanLine{err: err}:
			case <-reader.done:
			}
		}
	}()
	return reader
}

// Next returns the next complete event. It returns io.EOF at end of stream,
// a *ReadTimeoutError when no event arrives within the per-read timeout, and
// a *StreamTimeoutError when the total stream deadline passes. Either
// timeout aborts the underlying reader. Unnamed data blocks are returned
// with an empty Name; comment lines are skipped.
func (r *Reader) Next() (*Event, error) {
	var readC, streamC <-chan time.Time
	if r.readTimeout > 0 {
		timer := time.NewTimer(r.readTimeout)
		defer timer.Stop()
		readC = timer.C
	}
	if r.totalTimeout > 0 {
		remaining := r.totalTimeout - time.Since(r.started)
		if remaining <= 0 {
			r.abort()
			return nil, &StreamTimeoutError{Timeout: r.totalTimeout}
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		streamC = timer.C
	}

	var event Event
	var data strings.Builder

	for {
		select {
		case ln, ok := <-r.lines:
			if !ok {
				// Trailing partial block without a terminating blank line
				// still counts as an event.
				if data.Len() > 0 || event.Name != "" {
					event.Data = json.RawMessage(data.String())
					return &event, nil
				}
				return nil, io.EOF
			}
			if ln.err != nil {
				if isTimeout(ln.err) {
					return nil, &ReadTimeoutError{Timeout: r.readTimeout}
				}
				return nil, eris.Wrap(ln.err, "sse: read stream")
			}

			switch line := ln.text; {
			case line == "":
				if data.Len() == 0 && event.Name == "" {
					continue
				}
				event.Data = json.RawMessage(data.String())
				return &event, nil
			case strings.HasPrefix(line, ":"):
				// keepalive comment
			case strings.HasPrefix(line, "event:"):
				event.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}

		case <-readC:
			r.abort()
			return nil, &ReadTimeoutError{Timeout: r.readTimeout}

		case <-streamC:
			r.abort()
			return nil, &StreamTimeoutError{Timeout: r.totalTimeout}
		}
	}
}

// abort stops the read pump and closes the source so a blocked Read
// unblocks.
func (r *Reader) abort() {
	r.abortOnce.Do(func() {
		close(r.done)
		if r.closer != nil {
			_ = r.closer.Close()
		}
	})
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	return eris.As(err, &t) && t.Timeout()
}
