package bridge

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashureev/clawnest/internal/domain"
)

const (
	telegramPollTimeout   = 30 // seconds, long poll
	telegramClientTimeout = 45 * time.Second
	telegramStartCommand  = "/start"
)

// TelegramDialer connects bots to the Telegram Bot API.
type TelegramDialer struct {
	// Endpoint is the Bot API URL pattern; empty uses tgbotapi.APIEndpoint.
	Endpoint string
	// HTTPClient overrides the transport used for API calls.
	HTTPClient *http.Client
}

// Dial validates the token with getMe and returns a polling connection.
func (d TelegramDialer) Dial(ctx context.Context, cred domain.BridgeCredential) (Conn, error) {
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	base := d.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: telegramClientTimeout}
	}

	life, cancel := context.WithCancel(context.Background())
	client := &lifetimeClient{life: life, dial: ctx, base: base}

	bot, err := tgbotapi.NewBotAPIWithClient(cred.Token, endpoint, client)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}
	client.dial = nil

	return &telegramConn{bot: bot, cancel: cancel}, nil
}

// lifetimeClient binds every Bot API request to the connection lifetime,
// since the library builds requests without a context. While dialing,
// the dial context also applies.
type lifetimeClient struct {
	life context.Context
	dial context.Context
	base *http.Client
}

func (c *lifetimeClient) Do(req *http.Request) (*http.Response, error) {
	ctx := c.life
	if c.dial != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(c.dial, cancel)
		defer stop()
	}
	return c.base.Do(req.WithContext(ctx))
}

type telegramConn struct {
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
	offset int
}

func (c *telegramConn) Poll(ctx context.Context) ([]Inbound, error) {
	for {
		cfg := tgbotapi.NewUpdate(c.offset)
		cfg.Timeout = telegramPollTimeout

		updates, err := c.bot.GetUpdates(cfg)
		if err != nil {
			return nil, fmt.Errorf("telegram getUpdates: %w", err)
		}

		var out []Inbound
		for _, u := range updates {
			if u.UpdateID >= c.offset {
				c.offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Chat == nil {
				continue
			}
			out = append(out, Inbound{
				ChatID: strconv.FormatInt(u.Message.Chat.ID, 10),
				Text:   u.Message.Text,
				Start:  u.Message.Text == telegramStartCommand,
			})
		}
		if len(out) > 0 {
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (c *telegramConn) Send(_ context.Context, msg Outbound) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", msg.ChatID, err)
	}
	m := tgbotapi.NewMessage(chatID, msg.Text)
	if msg.Markdown {
		m.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := c.bot.Send(m); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

func (c *telegramConn) Typing(_ context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", chatID, err)
	}
	if _, err := c.bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("telegram sendChatAction: %w", err)
	}
	return nil
}

func (c *telegramConn) Close() error {
	c.cancel()
	return nil
}
