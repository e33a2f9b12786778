package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/triad/internal/bus"
	"github.com/stellarlinkco/triad/internal/config"
)

const telegramChannelName = "telegram"

// TelegramBot is the slice of tgbotapi.BotAPI the channel uses, an
// interface so tests can inject fakes.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances, injectable for tests.
type BotFactory func(token string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// TelegramChannel runs one bot identity per persona over a shared set of
// group chats. Each logical room maps to one telegram chat ID; outbound
// messages are sent through the bot belonging to the speaking persona.
type TelegramChannel struct {
	BaseChannel
	tokens     map[string]string // persona id -> bot token
	chatMap    map[string]int64  // room -> chat id
	roomByChat map[int64]string  // chat id -> room
	proxy      string
	httpClient *http.Client
	botFactory BotFactory

	bots      map[string]TelegramBot // persona id -> bot
	usernames map[string]string      // lowercased @username -> persona id
	cancel    context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with a custom
// bot factory, used by tests.
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if len(cfg.PersonaTokens) == 0 {
		return nil, fmt.Errorf("telegram requires at least one persona token")
	}
	if len(cfg.ChatMap) == 0 {
		return nil, fmt.Errorf("telegram requires a chat map")
	}

	roomByChat := make(map[int64]string, len(cfg.ChatMap))
	for room, chatID := range cfg.ChatMap {
		roomByChat[chatID] = room
	}

	return &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		tokens:      cfg.PersonaTokens,
		chatMap:     cfg.ChatMap,
		roomByChat:  roomByChat,
		proxy:       cfg.Proxy,
		httpClient:  http.DefaultClient,
		botFactory:  factory,
		bots:        make(map[string]TelegramBot),
		usernames:   make(map[string]string),
	}, nil
}

func (t *TelegramChannel) Rooms() []string {
	rooms := make([]string, 0, len(t.chatMap))
	for room := range t.chatMap {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (t *TelegramChannel) initBots() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}
	t.httpClient = client

	for personaID, token := range t.tokens {
		bot, err := t.botFactory(token, client)
		if err != nil {
			return fmt.Errorf("create telegram bot for %s: %w", personaID, err)
		}
		t.bots[personaID] = bot
		username := strings.ToLower(bot.GetSelf().UserName)
		if username != "" {
			t.usernames["@"+username] = personaID
		}
		log.Printf("[telegram] %s authorized as @%s", personaID, bot.GetSelf().UserName)
	}
	return nil
}

// Start authorizes every persona bot and polls updates from each. The
// same group message reaches every bot in the chat; the deterministic
// inbound ID lets the ingest queue collapse those duplicates.
func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBots(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	for personaID, bot := range t.bots {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updates := bot.GetUpdatesChan(u)

		go func(personaID string, updates tgbotapi.UpdatesChannel) {
			for {
				select {
				case update := <-updates:
					if update.Message == nil {
						continue
					}
					t.handleMessage(update.Message)
				case <-ctx.Done():
					return
				}
			}
		}(personaID, updates)
	}

	log.Printf("[telegram] polling started for %d persona bots", len(t.bots))
	return nil
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.IsBot {
		// Persona bots see each other's group messages; re-ingesting
		// them would feed the pipeline its own output.
		return
	}

	room, ok := t.roomByChat[msg.Chat.ID]
	if !ok {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	content := msg.Text
	if content == "" && msg.Caption != "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	t.bus.Inbound <- bus.InboundMessage{
		ID:         fmt.Sprintf("tg:%d:%d", msg.Chat.ID, msg.MessageID),
		Channel:    room,
		AuthorID:   senderID,
		Content:    content,
		Mentions:   t.extractMentions(msg),
		ReceivedAt: time.Unix(int64(msg.Date), 0),
	}
}

// extractMentions maps @botname entities to persona IDs.
func (t *TelegramChannel) extractMentions(msg *tgbotapi.Message) []string {
	if len(msg.Entities) == 0 {
		return nil
	}

	text := []rune(msg.Text)
	mentions := make([]string, 0, 1)
	seen := make(map[string]struct{})
	for _, entity := range msg.Entities {
		if entity.Type != "mention" {
			continue
		}
		if entity.Offset < 0 || entity.Offset+entity.Length > len(text) {
			continue
		}
		handle := strings.ToLower(string(text[entity.Offset : entity.Offset+entity.Length]))
		personaID, ok := t.usernames[handle]
		if !ok {
			continue
		}
		if _, dup := seen[personaID]; dup {
			continue
		}
		seen[personaID] = struct{}{}
		mentions = append(mentions, personaID)
	}
	return mentions
}

func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	bot, ok := t.bots[msg.Persona]
	if !ok {
		return fmt.Errorf("no telegram bot for persona %q", msg.Persona)
	}
	chatID, ok := t.chatMap[msg.Channel]
	if !ok {
		return fmt.Errorf("no telegram chat mapped for channel %q", msg.Channel)
	}

	// Telegram caps messages at 4096 chars.
	const maxLen = 4000
	content := msg.Content
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxLen {
			if idx := strings.LastIndex(chunk[:maxLen], "\n"); idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxLen]
			}
		}
		content = content[len(chunk):]

		if _, err := bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	for _, bot := range t.bots {
		bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot installs a bot for a persona, used by tests.
func (t *TelegramChannel) SetBot(personaID string, bot TelegramBot) {
	t.bots[personaID] = bot
	username := strings.ToLower(bot.GetSelf().UserName)
	if username != "" {
		t.usernames["@"+username] = personaID
	}
}
