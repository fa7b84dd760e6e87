package session

import (
	"context"

	"github.com/AltairaLabs/LiveInspect/runtime/protocol"
	"github.com/AltairaLabs/LiveInspect/runtime/transport"
)

// Link is the session's view of a transport channel.
type Link interface {
	// Send queues a chunk without blocking.
	Send(chunk protocol.Chunk)
	// SendEnd queues the graceful shutdown request.
	SendEnd()
	// Messages delivers server messages and is closed when the link ends.
	Messages() <-chan protocol.Message
	// Closed yields one CloseInfo when the link ends.
	Closed() <-chan transport.CloseInfo
	Close() error
}

// Dialer opens a Link to the relay.
type Dialer interface {
	Dial(ctx context.Context) (Link, error)
}

// ChannelDialer dials a transport.Channel.
type ChannelDialer struct {
	URL    string
	Config transport.ChannelConfig
}

// Dial implements Dialer.
func (d *ChannelDialer) Dial(ctx context.Context) (Link, error) {
	ch, err := transport.Dial(ctx, d.URL, d.Config)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
