package stream

import (
	"iter"

	"github.com/docker/agentgateway/pkg/event"
)

// JSONWriter sends one JSON message per call, as a websocket connection does.
type JSONWriter interface {
	WriteJSON(v any) error
}

// Forward writes each event as one JSON message until the sequence ends. It
// returns the execution error or the first write error.
func Forward(events iter.Seq2[*event.Event, error], w JSONWriter) error {
	for ev, err := range events {
		if err != nil {
			return err
		}
		if err := w.WriteJSON(ev); err != nil {
			return err
		}
	}
	return nil
}
