package events

import (
	"fmt"
	"net/http"
	"strings"
)

// SSEHandler streams broker events. Clients may filter by outcome action via
// ?actions=focused,navigated.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var filter map[string]bool
		if q := r.URL.Query().Get("actions"); q != "" {
			filter = make(map[string]bool)
			for _, a := range strings.Split(q, ",") {
				if a = strings.TrimSpace(a); a != "" {
					filter[a] = true
				}
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		// Comment line so clients see the stream open before the first event.
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if filter != nil && !filter[evt.Kind] {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, evt.Payload)
				flusher.Flush()
			}
		}
	}
}
