package weft

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WireEventType identifies the kind of event carried over an SSE transport
// when forwarding Stream Aggregator output to a frontend.
type WireEventType string

const (
	// WireTextDelta carries an incremental text chunk.
	WireTextDelta WireEventType = "text_delta"
	// WireToolCall carries one completed tool call.
	WireToolCall WireEventType = "tool_call"
	// WireProgress carries a Stream Aggregator ProgressEvent.
	WireProgress WireEventType = "progress"
	// WireDone signals the stream has finished successfully.
	WireDone WireEventType = "done"
	// WireError signals the stream ended in a producer error.
	WireError WireEventType = "error"
)

// WireEvent is one frame of a forwarded stream. At most one of Text,
// ToolCall, Progress, or Error is populated, matching Type; a WireDone
// frame carries none of them.
type WireEvent struct {
	Type     WireEventType  `json:"type"`
	Text     string         `json:"text,omitempty"`
	ToolCall *ToolCall      `json:"tool_call,omitempty"`
	Progress *ProgressEvent `json:"progress,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// WriteSSE serializes ev as one "data: <json>\n\n" SSE frame.
func WriteSSE(w io.Writer, ev WireEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// ReadSSE scans an SSE stream of WireEvents off r, invoking fn for each
// decoded event. Lines that aren't "data: " frames, and frames that fail
// to decode, are skipped rather than failing the whole stream — providers'
// own SSE streams tolerate the occasional malformed chunk the same way.
func ReadSSE(r io.Reader, fn func(WireEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		var ev WireEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		fn(ev)
	}
	return scanner.Err()
}

// ProgressWireFunc adapts a plain io.Writer into a ProgressFunc that
// forwards each Stream Aggregator ProgressEvent to w as an SSE frame, for
// wiring AggregateOptions.ProgressFunc straight into a frontend connection.
func ProgressWireFunc(w io.Writer) ProgressFunc {
	return func(ev ProgressEvent) {
		_ = WriteSSE(w, WireEvent{Type: WireProgress, Progress: &ev})
	}
}
