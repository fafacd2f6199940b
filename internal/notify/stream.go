package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/rtc-signal/internal/types"
)

const keepaliveInterval = 25 * time.Second

var ErrStreamingUnsupported = errors.New("response writer does not support streaming")

// Stream writes events to w as server-sent events until events is closed or
// ctx is done. A comment line is sent periodically to keep proxies from
// closing an idle stream.
func Stream(ctx context.Context, w http.ResponseWriter, events <-chan types.Notice) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprint(w, formatEvent(n)); err != nil {
				return err
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

func formatEvent(n types.Notice) string {
	var sb strings.Builder
	if n.Event != "" {
		sb.WriteString("event: " + n.Event + "\n")
	}
	for _, line := range strings.Split(n.Data, "\n") {
		sb.WriteString("data: " + line + "\n")
	}
	sb.WriteString("\n")
	return sb.String()
}
