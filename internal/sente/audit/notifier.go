// Package audit notifies an operations channel about committed transactions.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ssekandi/sente/internal/sente/channel"
	"github.com/ssekandi/sente/internal/sente/ledger"
)

// Notifier receives committed transactions.
type Notifier interface {
	TransactionCommitted(ctx context.Context, tx *ledger.Transaction)
}

// Noop discards all notifications.
type Noop struct{}

// TransactionCommitted does nothing.
func (Noop) TransactionCommitted(context.Context, *ledger.Transaction) {}

// ChannelNotifier forwards a one-line summary of each committed transaction to
// a fixed operations identity over a channel sender. Delivery failures are
// logged and dropped; auditing never blocks or fails user-facing work.
type ChannelNotifier struct {
	sender   channel.Sender
	identity string
}

// NewChannelNotifier returns a notifier that posts to identity via sender.
func NewChannelNotifier(sender channel.Sender, identity string) *ChannelNotifier {
	return &ChannelNotifier{sender: sender, identity: identity}
}

// TransactionCommitted sends the summary.
func (n *ChannelNotifier) TransactionCommitted(ctx context.Context, tx *ledger.Transaction) {
	text := fmt.Sprintf("txn %s: %s %s UGX %d for %s",
		tx.ID, tx.Command, tx.Status, tx.AmountUGX, tx.Identity)
	if err := n.sender.Send(ctx, channel.OutboundReply{Identity: n.identity, Text: text}); err != nil {
		slog.Warn("audit: failed to deliver transaction notice", "txn_id", tx.ID, "err", err)
	}
}
