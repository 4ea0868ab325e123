// Package transport defines the seam to the realtime data channel. The
// connection itself (establishment, recovery, auth) is owned by an external
// room/session component; this package only moves payloads over named
// topics and tracks the connected/disconnected signal consumers use to
// choose between realtime and HTTP delivery paths.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by sends attempted while the underlying
// session is down.
var ErrNotConnected = errors.New("transport not connected")

// Delivery is one inbound payload from a topic. Payload may be backed by a
// pooled buffer when routed through a Queue; it is valid until the owning
// Item is released.
type Delivery struct {
	Topic     string
	Payload   []byte
	Attrs     map[string]string
	StreamID  string
	Timestamp time.Time
}

// Text returns the payload as a string for the wire decoders.
func (d Delivery) Text() string { return string(d.Payload) }

// Transport sends and receives text payloads over named topics. Delivery is
// at most once per physical send; messages may be dropped, duplicated, or
// reordered by the underlying channel.
type Transport interface {
	Send(ctx context.Context, topic string, payload []byte, attrs map[string]string) error
	Subscribe(topic string, fn func(Delivery)) (cancel func())
}
