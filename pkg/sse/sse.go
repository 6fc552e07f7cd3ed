// Package sse implements a Server-Sent Events reader, one of the thin
// upstream-client wrappers the network layer hands a connection to.
// Events are assembled line-by-line per the text/event-stream
// grammar: `field: value` lines accumulate into the current event, a
// blank line dispatches it, and a leading colon marks a comment line
// to discard.
//
// The line-at-a-time bufio.Scanner loop, tolerate-and-skip-bad-lines
// discipline, and large-line buffer sizing follow the same shape as
// an upstream event-stream consumer processing one line at a time.
package sse

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
)

// Event is one assembled Server-Sent Event.
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int
	HasID bool
}

// Reader consumes a text/event-stream body and yields assembled
// Events one at a time via Next.
type Reader struct {
	scanner *bufio.Scanner
}

// defaultMaxLineSize caps a single SSE line at 1 MiB, generous enough
// for large tool-call/data payloads without letting one connection
// grow its buffer unbounded.
const defaultMaxLineSize = 1 << 20

// NewReader builds a Reader over body with the default 1 MiB
// per-line cap.
func NewReader(body io.Reader) *Reader {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, defaultMaxLineSize)
	return &Reader{scanner: scanner}
}

// Next reads and assembles the next event from the stream, blocking
// until one is complete, ctx is cancelled, or the stream ends (io.EOF).
// Malformed individual lines are skipped rather than failing the
// whole stream.
func (r *Reader) Next(ctx context.Context) (Event, error) {
	var ev Event
	var data strings.Builder
	sawAnyField := false

	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		default:
		}

		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return Event{}, err
			}
			if sawAnyField {
				ev.Data = strings.TrimSuffix(data.String(), "\n")
				return ev, nil
			}
			return Event{}, io.EOF
		}

		line := r.scanner.Text()

		if line == "" {
			if !sawAnyField {
				continue // blank lines between events are not themselves events
			}
			ev.Data = strings.TrimSuffix(data.String(), "\n")
			return ev, nil
		}

		if strings.HasPrefix(line, ":") {
			continue // comment line
		}

		field, value := splitField(line)
		switch field {
		case "event":
			ev.Event = value
			sawAnyField = true
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			sawAnyField = true
		case "id":
			ev.ID = value
			ev.HasID = true
			sawAnyField = true
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				ev.Retry = n
				sawAnyField = true
			}
		default:
			// unknown field name: ignored per the SSE grammar
		}
	}
}

// splitField splits a "field: value" or "field:value" line. A
// colon-less line names a field with an empty value.
func splitField(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}
