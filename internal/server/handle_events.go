package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/playperu/walktour/internal/session"
)

// handleEvents streams the session's events as Server-Sent Events until the
// client goes away or the session closes.
func handleEvents(broker *session.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r)

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		ch := broker.Subscribe(s.ID())
		defer broker.Unsubscribe(s.ID(), ch)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		// Current state first, so late subscribers need no extra request.
		if st, err := s.State(r.Context()); err == nil {
			writeSSE(w, session.Event{
				Type:      session.EventState,
				SessionID: s.ID(),
				At:        time.Now().UTC(),
				Data:      st,
			})
		}
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-s.Closed():
				drain(w, ch)
				flusher.Flush()
				return
			case data := <-ch:
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

// drain forwards whatever is already queued, including the closed event.
func drain(w http.ResponseWriter, ch chan []byte) {
	for {
		select {
		case data := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", data)
		default:
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev session.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
