// Package matrix adapts Matrix direct messages to the channel contracts. Each
// Matrix user is one identity; replies go back to the room their last message
// arrived in.
package matrix

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/ssekandi/sente/internal/sente/channel"
)

// Config holds Matrix adapter configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// DB is an optional SQLite connection used to persist the Matrix sync
	// token across restarts. When nil an in-memory store is used and room
	// history replays on every restart.
	DB *sql.DB
}

// MessageHandler processes one normalized inbound message.
type MessageHandler func(ctx context.Context, msg channel.NormalizedMessage)

// Adapter bridges a Matrix account to the bot controller.
type Adapter struct {
	client  *mautrix.Client
	config  *Config
	stopCh  chan struct{}
	handler MessageHandler

	// rooms maps sender identity to the room their last message came from,
	// so Send can route a reply without transport detail leaking into the
	// controller.
	mu    sync.RWMutex
	rooms map[string]id.RoomID
}

var _ channel.Sender = (*Adapter)(nil)

// New creates a Matrix adapter.
func New(config *Config) (*Adapter, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
	} else {
		slog.Warn("matrix: no DB configured, sync position will not survive restarts")
	}

	return &Adapter{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
		rooms:  make(map[string]id.RoomID),
	}, nil
}

// Start begins syncing with the homeserver and delivers inbound messages to
// handler. Sync runs in the background with exponential back-off reconnects;
// without retries a transient homeserver error would leave the bot deaf.
func (a *Adapter) Start(ctx context.Context, handler MessageHandler) error {
	a.handler = handler

	syncer := a.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, a.handleEvent)
	syncer.OnEventType(event.StateMember, a.handleInvite)

	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin
			if err := a.client.Sync(); err != nil {
				select {
				case <-a.stopCh:
					return
				default:
				}
				slog.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
				select {
				case <-a.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			return
		}
	}()

	return nil
}

// Stop stops the sync loop.
func (a *Adapter) Stop() {
	close(a.stopCh)
	a.client.StopSync()
}

// Send delivers a reply to the room the identity last wrote from.
func (a *Adapter) Send(ctx context.Context, reply channel.OutboundReply) error {
	a.mu.RLock()
	roomID, ok := a.rooms[reply.Identity]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no known room for identity %s", reply.Identity)
	}
	if _, err := a.client.SendText(ctx, roomID, reply.Text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (a *Adapter) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(a.config.UserID) {
		return
	}
	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}

	identity := evt.Sender.String()
	a.mu.Lock()
	a.rooms[identity] = evt.RoomID
	a.mu.Unlock()

	if a.handler == nil {
		return
	}
	a.handler(ctx, channel.NormalizedMessage{
		Identity:  identity,
		MessageID: evt.ID.String(),
		Text:      msgContent.Body,
	})
}

// handleInvite auto-joins rooms the bot is invited to so users can start a
// conversation by inviting it to a DM.
func (a *Adapter) handleInvite(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != a.config.UserID {
		return
	}
	if _, err := a.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Warn("matrix: failed to join invited room", "room", evt.RoomID, "err", err)
	}
}
