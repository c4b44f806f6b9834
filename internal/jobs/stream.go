package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// KeepAliveFrame is an SSE comment frame. Clients ignore it; proxies see traffic.
const KeepAliveFrame = ": keepalive\n\n"

// Frame encodes e as one SSE data frame.
func Frame(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

type flusher interface{ Flush() }

// Stream writes every event from rd to w as SSE frames until the terminal event has been written, inserting a
// keep-alive frame whenever keepAlive passes without an event. If w can flush, each frame is flushed.
//
// Stream returns nil after the terminal frame, ctx.Err() if the caller goes away, or the first write error.
func Stream(ctx context.Context, w io.Writer, rd *Reader, keepAlive time.Duration) error {
	f, _ := w.(flusher)
	for {
		e, err := rd.Next(ctx, keepAlive)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, ErrIdle):
			if _, err := io.WriteString(w, KeepAliveFrame); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			frame, err := Frame(e)
			if err != nil {
				return err
			}
			if _, err := w.Write(frame); err != nil {
				return err
			}
		}
		if f != nil {
			f.Flush()
		}
		if e.IsTerminal() {
			return nil
		}
	}
}
