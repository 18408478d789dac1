// Package broadcast carries state-transition events between the stations of a session.
package broadcast

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
)

// Bus publishes events to every subscriber of the event's session,
// including the publisher itself. Delivery is best effort.
type Bus interface {
	Publish(ctx context.Context, ev *model.Event) error
	// Subscribe streams the events of one session until ctx is done.
	Subscribe(ctx context.Context, sessionID string) (<-chan *model.Event, error)
	Close() error
}

// Driver names accepted by the configuration.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

const channelPrefix = "cocktime:session:"

// Channel is the pub/sub channel of a session.
func Channel(sessionID string) string { return channelPrefix + sessionID }

// Encode serialises an event for the wire.
func Encode(ev *model.Event) ([]byte, error) {
	if ev == nil {
		return nil, ErrNilEvent
	}
	if ev.SessionID == "" {
		return nil, ErrNoSession
	}
	b, err := json.Marshal(ev)
	return b, eris.Wrap(err, "failed to encode event")
}

// Decode parses a wire event.
func Decode(payload []byte) (*model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, eris.Wrap(err, "failed to decode event")
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, ErrMalformed
	}
	return &ev, nil
}
