package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/roach88/marketcart/internal/broadcast"
)

// streamBuffer bounds undelivered events per client. Every event carries the
// whole cart, so a slow client only ever needs the newest ones.
const streamBuffer = 16

// streamEvents serves cartUpdated events as server-sent events.
//
// The stream opens with the current cart so a client that (re)connects
// re-derives its state without waiting for the next mutation.
func (s *server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response does not support streaming")
		return
	}

	events := make(chan broadcast.Event, streamBuffer)
	unsubscribe := s.bc.Subscribe(func(ev broadcast.Event) {
		for {
			select {
			case events <- ev:
				return
			default:
			}
			// Full: drop the oldest, never block the broadcaster.
			select {
			case <-events:
			default:
			}
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	initial := broadcast.Event{Name: broadcast.EventCartUpdated, Cart: s.cart.Snapshot()}
	if err := writeEvent(w, initial); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := writeEvent(w, ev); err != nil {
				s.logger.Debug("event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev broadcast.Event) error {
	data, err := json.Marshal(ev.Cart)
	if err != nil {
		return err
	}
	if ev.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
	return err
}
