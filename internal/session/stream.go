package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	sseKeepAliveInterval = 30 * time.Second
	fallbackEventName    = "unhandled"
)

// eventStream writes session events to a server-sent events response.
type eventStream struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, http.ErrNotSupported
	}
	return &eventStream{writer: w, flusher: flusher}, nil
}

// Run pumps events from sub until ctx ends or the subscription fails.
func (s *eventStream) Run(ctx context.Context, sub *Subscription) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Event, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			evt, err := sub.Next(ctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(sseKeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				select {
				case err := <-errc:
					if ctx.Err() != nil {
						return nil
					}
					return err
				default:
					return nil
				}
			}
			if err := s.writeEvent(evt); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.writeKeepAlive(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *eventStream) writeEvent(evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	if _, err := s.writer.Write([]byte("event: " + eventName(evt.Type) + "\ndata: ")); err != nil {
		return err
	}
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	if _, err := s.writer.Write([]byte("\n\n")); err != nil {
		return err
	}

	s.flusher.Flush()
	return nil
}

// eventName returns t when it is safe on an SSE event line. Unknown wire
// types are relayed verbatim in Type, so anything else is renamed.
func eventName(t string) string {
	if t == "" || len(t) > 64 {
		return fallbackEventName
	}
	for _, r := range t {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return fallbackEventName
		}
	}
	return t
}

func (s *eventStream) writeKeepAlive() error {
	if _, err := s.writer.Write([]byte(":keepalive\n\n")); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
