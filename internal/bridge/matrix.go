package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/ashureev/clawnest/internal/domain"
)

const (
	matrixStartCommand = "!start"
	matrixTypingFor    = 30 * time.Second
)

// MatrixDialer connects bot accounts to a Matrix homeserver.
type MatrixDialer struct{}

// Dial checks the access token with whoami and starts syncing.
func (MatrixDialer) Dial(ctx context.Context, cred domain.BridgeCredential) (Conn, error) {
	client, err := mautrix.NewClient(cred.Homeserver, id.UserID(cred.UserID), cred.Token)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if _, err := client.Whoami(ctx); err != nil {
		return nil, fmt.Errorf("matrix whoami: %w", err)
	}

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return nil, fmt.Errorf("unexpected syncer type: %T", client.Syncer)
	}

	life, cancel := context.WithCancel(context.Background())
	c := newMatrixConn(client.UserID, time.Now())
	c.client = client
	c.cancel = cancel
	syncer.OnEventType(event.EventMessage, c.handleEvent)
	c.startSync(life)
	return c, nil
}

type matrixConn struct {
	client *mautrix.Client
	self   id.UserID
	since  int64 // unix millis; older events are backlog
	cancel context.CancelFunc

	inbox   chan Inbound
	syncErr chan error

	life   context.Context
	resync bool // set after a failed sync; Poll restarts it
}

func newMatrixConn(self id.UserID, connectedAt time.Time) *matrixConn {
	return &matrixConn{
		self:    self,
		since:   connectedAt.UnixMilli(),
		inbox:   make(chan Inbound, inboxSize),
		syncErr: make(chan error, 1),
	}
}

func (c *matrixConn) startSync(life context.Context) {
	c.life = life
	go func() {
		c.syncErr <- c.client.SyncWithContext(life)
	}()
}

func (c *matrixConn) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == c.self || evt.Timestamp < c.since {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	msg := Inbound{
		ChatID: evt.RoomID.String(),
		Text:   content.Body,
		Start:  strings.TrimSpace(content.Body) == matrixStartCommand,
	}
	select {
	case c.inbox <- msg:
	case <-ctx.Done():
	}
}

func (c *matrixConn) Poll(ctx context.Context) ([]Inbound, error) {
	if c.resync {
		c.resync = false
		c.startSync(c.life)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-c.syncErr:
		if c.life.Err() != nil {
			return nil, c.life.Err()
		}
		c.resync = true
		return nil, fmt.Errorf("matrix sync: %w", err)
	case msg := <-c.inbox:
		out := []Inbound{msg}
		for {
			select {
			case more := <-c.inbox:
				out = append(out, more)
			default:
				return out, nil
			}
		}
	}
}

func (c *matrixConn) Send(ctx context.Context, msg Outbound) error {
	roomID := id.RoomID(msg.ChatID)
	var err error
	if msg.Markdown {
		content := format.RenderMarkdown(msg.Text, true, false)
		_, err = c.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
	} else {
		_, err = c.client.SendText(ctx, roomID, msg.Text)
	}
	if err != nil {
		return fmt.Errorf("matrix send: %w", err)
	}
	return nil
}

func (c *matrixConn) Typing(ctx context.Context, chatID string) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(chatID), true, matrixTypingFor); err != nil {
		return fmt.Errorf("matrix typing: %w", err)
	}
	return nil
}

func (c *matrixConn) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.client != nil {
		c.client.StopSync()
	}
	return nil
}
