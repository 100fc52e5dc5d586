// Package channel defines the transport-neutral contracts between messaging
// adapters and the bot controller. Adapters (WhatsApp Cloud API, Matrix)
// normalize inbound events into NormalizedMessage and implement Sender for
// outbound replies.
package channel

import "context"

// NormalizedMessage is one inbound user message, stripped of transport detail.
type NormalizedMessage struct {
	// Identity is the stable per-channel sender address: a phone number in
	// E.164-without-plus form for WhatsApp, a user ID for Matrix. It keys
	// all confirmation and wallet state.
	Identity string

	// MessageID is the transport's delivery ID, used for dedup.
	MessageID string

	// Text is the message body. For voice notes the adapter fills this with
	// the transcription before handing the message over.
	Text string
}

// OutboundReply is one message to deliver back to a user.
type OutboundReply struct {
	Identity string
	Text     string
}

// Sender delivers replies over a channel. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, reply OutboundReply) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, reply OutboundReply) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, reply OutboundReply) error {
	return f(ctx, reply)
}
