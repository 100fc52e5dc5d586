// Package bot contains the controller that turns normalized inbound messages
// into state changes and replies. It owns the strict ordering of a turn:
// classify, then mutate state, then deliver the reply. Delivery failures are
// logged and never compensated, so state is always at least as advanced as
// what the user has seen.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/ssekandi/sente/common/redact"
	"github.com/ssekandi/sente/common/trace"
	"github.com/ssekandi/sente/internal/sente/audit"
	"github.com/ssekandi/sente/internal/sente/channel"
	"github.com/ssekandi/sente/internal/sente/confirm"
	"github.com/ssekandi/sente/internal/sente/intent"
	"github.com/ssekandi/sente/internal/sente/ledger"
	"github.com/ssekandi/sente/internal/sente/wallet"
)

// Controller dispatches resolved commands against the confirmation store,
// wallet, and ledger.
type Controller struct {
	resolver *intent.Resolver
	confirms *confirm.Store
	ledger   *ledger.Ledger
	wallet   *wallet.Wallet
	notifier audit.Notifier
}

// New returns a Controller. notifier may be nil, in which case committed
// transactions are not announced anywhere.
func New(resolver *intent.Resolver, confirms *confirm.Store, l *ledger.Ledger, w *wallet.Wallet, notifier audit.Notifier) *Controller {
	if notifier == nil {
		notifier = audit.Noop{}
	}
	return &Controller{
		resolver: resolver,
		confirms: confirms,
		ledger:   l,
		wallet:   w,
		notifier: notifier,
	}
}

// HandleMessage processes one inbound message end to end and delivers the
// reply over sender. It never returns an error: every failure mode maps to a
// reply or a log line.
func (c *Controller) HandleMessage(ctx context.Context, sender channel.Sender, msg channel.NormalizedMessage) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	// "cancel" is checked before classification so a user can always bail
	// out of a pending confirmation, whatever the resolver would make of
	// the word.
	if strings.EqualFold(text, "cancel") {
		c.handleCancel(ctx, sender, msg.Identity)
		return
	}

	cls := c.resolver.Resolve(ctx, msg.Identity, text)
	slog.Info("message resolved",
		"trace_id", trace.FromContext(ctx),
		"identity", msg.Identity,
		"command", cls.Command,
		"source", cls.Source,
		"confidence", cls.Confidence)

	switch cls.Command {
	case intent.CommandOtp:
		c.handleOtp(ctx, sender, msg.Identity, text)

	case intent.CommandBalance:
		c.handleBalance(ctx, sender, msg.Identity)

	case intent.CommandPayWater, intent.CommandPayElectricity, intent.CommandPayTV,
		intent.CommandAirtime, intent.CommandTopUp, intent.CommandTransfer:
		c.beginConfirmation(ctx, sender, msg.Identity, cls.Command, text)

	case intent.CommandLoans:
		c.deliver(ctx, sender, msg.Identity, loansReply)

	case intent.CommandGreeting:
		c.deliver(ctx, sender, msg.Identity, menuReply)

	case intent.CommandHelp:
		c.deliver(ctx, sender, msg.Identity, helpReply)

	default:
		c.deliver(ctx, sender, msg.Identity, unresolvedReply)
	}
}

func (c *Controller) handleCancel(ctx context.Context, sender channel.Sender, identity string) {
	cancelled, err := c.confirms.Cancel(ctx, identity)
	if err != nil {
		slog.Error("cancel failed", "identity", identity, "err", err)
		c.deliver(ctx, sender, identity, tryAgainReply)
		return
	}
	if cancelled {
		c.deliver(ctx, sender, identity, cancelledReply)
	} else {
		c.deliver(ctx, sender, identity, nothingToCancelReply)
	}
}

func (c *Controller) handleBalance(ctx context.Context, sender channel.Sender, identity string) {
	balance, err := c.wallet.Balance(ctx, identity)
	if err != nil {
		slog.Error("balance lookup failed", "identity", identity, "err", err)
		c.deliver(ctx, sender, identity, tryAgainReply)
		return
	}
	c.deliver(ctx, sender, identity, balanceReply(balance))
}

// beginConfirmation starts an OTP round for a sensitive command. The state is
// fully written before the code is delivered.
func (c *Controller) beginConfirmation(ctx context.Context, sender channel.Sender, identity string, command intent.Command, text string) {
	payload := buildPayload(command, text)

	rec, err := c.confirms.Begin(ctx, identity, command, payload)
	if err != nil {
		slog.Error("failed to begin confirmation",
			"identity", identity, "command", command, "err", err)
		c.deliver(ctx, sender, identity, tryAgainReply)
		return
	}

	slog.Info("confirmation started",
		"trace_id", trace.FromContext(ctx),
		"identity", identity,
		"command", command,
		"code", redact.Code(rec.Code))

	c.deliver(ctx, sender, identity, otpReply(command, rec.Code))
}

// handleOtp verifies a 6-digit reply and commits the pending command on
// success. The ledger row and wallet movement happen only after verification.
func (c *Controller) handleOtp(ctx context.Context, sender channel.Sender, identity, code string) {
	ok, err := c.confirms.Verify(ctx, identity, code)
	if err != nil {
		slog.Error("otp verification failed",
			"identity", identity, "code", redact.Code(code), "err", err)
		c.deliver(ctx, sender, identity, tryAgainReply)
		return
	}
	if !ok {
		c.deliver(ctx, sender, identity, invalidOtpReply)
		return
	}

	pending, err := c.confirms.ConsumePending(ctx, identity)
	if errors.Is(err, confirm.ErrNoPending) {
		// A verified code with no pending command should not happen; treat
		// it the same as an invalid code rather than invent a transaction.
		slog.Warn("verified otp with no pending confirmation", "identity", identity)
		c.deliver(ctx, sender, identity, invalidOtpReply)
		return
	}
	if err != nil {
		slog.Error("failed to consume pending confirmation", "identity", identity, "err", err)
		c.deliver(ctx, sender, identity, tryAgainReply)
		return
	}

	c.commit(ctx, sender, pending)
}

// commit applies the verified command: move wallet funds, append the ledger
// row, notify the audit channel, and reply.
func (c *Controller) commit(ctx context.Context, sender channel.Sender, pending *confirm.PendingConfirmation) {
	identity := pending.Identity
	amount := payloadAmount(pending.PayloadJSON)

	switch pending.Command {
	case intent.CommandTopUp:
		if amount > 0 {
			if err := c.wallet.Credit(ctx, identity, amount); err != nil {
				slog.Error("top-up credit failed", "identity", identity, "err", err)
				c.deliver(ctx, sender, identity, tryAgainReply)
				return
			}
		}
	default:
		if amount > 0 {
			err := c.wallet.Debit(ctx, identity, amount)
			if errors.Is(err, wallet.ErrInsufficientFunds) {
				if _, lerr := c.ledger.Record(ctx, identity, pending.Command, ledger.StatusFailed, amount, pending.PayloadJSON); lerr != nil {
					slog.Error("failed to record failed transaction", "identity", identity, "err", lerr)
				}
				c.deliver(ctx, sender, identity, insufficientFundsReply)
				return
			}
			if err != nil {
				slog.Error("debit failed", "identity", identity, "err", err)
				c.deliver(ctx, sender, identity, tryAgainReply)
				return
			}
		}
	}

	tx, err := c.ledger.Record(ctx, identity, pending.Command, ledger.StatusCompleted, amount, pending.PayloadJSON)
	if err != nil {
		slog.Error("failed to record transaction", "identity", identity, "err", err)
		c.deliver(ctx, sender, identity, tryAgainReply)
		return
	}

	slog.Info("transaction committed",
		"trace_id", trace.FromContext(ctx),
		"txn_id", tx.ID,
		"identity", identity,
		"command", tx.Command,
		"amount_ugx", tx.AmountUGX)

	c.notifier.TransactionCommitted(ctx, tx)
	c.deliver(ctx, sender, identity, committedReply(tx.Command, tx.AmountUGX))
}

// deliver sends a reply and logs failures. By the time deliver runs all state
// changes for the turn are committed; a lost reply costs a retype, not money.
func (c *Controller) deliver(ctx context.Context, sender channel.Sender, identity, text string) {
	if err := sender.Send(ctx, channel.OutboundReply{Identity: identity, Text: text}); err != nil {
		slog.Error("failed to deliver reply",
			"trace_id", trace.FromContext(ctx), "identity", identity, "err", err)
	}
}

// buildPayload parses whatever structured details the message carries for the
// given command into the JSON stored alongside the pending confirmation.
func buildPayload(command intent.Command, text string) string {
	var v any
	switch command {
	case intent.CommandAirtime:
		v = intent.ParseAirtime(text)
	case intent.CommandTransfer:
		v = intent.ParseTransfer(text)
	case intent.CommandTopUp:
		v = intent.ParseTransfer(text) // amount extraction only
	default:
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// payloadAmount extracts the UGX amount from a stored payload, zero when
// absent.
func payloadAmount(payloadJSON string) int64 {
	var p struct {
		AmountUGX int64 `json:"amount_ugx"`
	}
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return 0
	}
	return p.AmountUGX
}
