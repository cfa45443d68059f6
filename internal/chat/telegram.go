package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	maxMessageRunes = 4000
	maxFileBytes    = 20 << 20
)

// commandMenus maps bot commands to menu keys. Telegram has no bot menu
// events, so the command list plays that role.
var commandMenus = map[string]string{
	"basic":  MenuBasic,
	"image":  MenuImage,
	"search": MenuSearch,
	"report": MenuReport,
}

// botAPI is the subset of *tgbotapi.BotAPI in use
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Telegram implements ChatIO over the Bot API. User ids are chat ids and
// message handles are "chatID:messageID".
type Telegram struct {
	api    botAPI
	bot    *tgbotapi.BotAPI
	http   *http.Client
	logger *zap.Logger
}

func NewTelegram(token string, logger *zap.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Authorized on telegram", zap.String("username", api.Self.UserName))
	return &Telegram{api: api, bot: api, http: &http.Client{}, logger: logger}, nil
}

func newTelegramWithAPI(api botAPI, client *http.Client, logger *zap.Logger) *Telegram {
	return &Telegram{api: api, http: client, logger: logger}
}

// escapeMarkdown escapes MarkdownV2 special characters
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

// renderMarkdown converts **bold** spans and escapes everything else.
func renderMarkdown(text string) string {
	parts := strings.Split(text, "**")
	var b strings.Builder
	for i, p := range parts {
		// an unpaired trailing ** stays literal
		if i%2 == 1 && i < len(parts)-1 && p != "" {
			b.WriteString("*" + escapeMarkdown(p) + "*")
			continue
		}
		if i%2 == 1 {
			b.WriteString(escapeMarkdown("**"))
		}
		b.WriteString(escapeMarkdown(p))
	}
	return b.String()
}

func truncate(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "…"
}

func renderCard(card Card) string {
	var b strings.Builder
	if card.Title != "" {
		b.WriteString("*" + escapeMarkdown(card.Title) + "*\n\n")
	}
	b.WriteString(renderMarkdown(truncate(card.Body, maxMessageRunes)))
	if card.Note != "" {
		b.WriteString("\n\n_" + escapeMarkdown(card.Note) + "_")
	}
	return b.String()
}

func parseChatID(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", userID, err)
	}
	return id, nil
}

func messageHandle(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func parseHandle(handle string) (int64, int, error) {
	chat, msg, ok := strings.Cut(handle, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid message handle %q", handle)
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message handle %q: %w", handle, err)
	}
	msgID, err := strconv.Atoi(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message handle %q: %w", handle, err)
	}
	return chatID, msgID, nil
}

func (t *Telegram) SendText(ctx context.Context, userID, text string) error {
	chatID, err := parseChatID(userID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, renderMarkdown(truncate(text, maxMessageRunes)))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (t *Telegram) SendCard(ctx context.Context, userID string, card Card) (string, error) {
	chatID, err := parseChatID(userID)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(chatID, renderCard(card))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	sent, err := t.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("send card: %w", err)
	}
	return messageHandle(chatID, sent.MessageID), nil
}

func (t *Telegram) UpdateCard(ctx context.Context, messageID string, card Card) error {
	chatID, msgID, err := parseHandle(messageID)
	if err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, msgID, renderCard(card))
	edit.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := t.api.Request(edit); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "message is not modified") {
			return nil
		}
		return fmt.Errorf("edit card: %w", err)
	}
	return nil
}

// FileContent downloads a file by its Telegram file id.
func (t *Telegram) FileContent(ctx context.Context, messageID, fileKey string) ([]byte, error) {
	if fileKey == "" {
		return nil, ErrNoFile
	}
	link, err := t.api.GetFileDirectURL(fileKey)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileKey, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFileBytes))
}

// RegisterCommands publishes the mode commands in the client menu.
func (t *Telegram) RegisterCommands() error {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "basic", Description: "基础模式：提示词优化"},
		tgbotapi.BotCommand{Command: "image", Description: "图片模式：图片提示词"},
		tgbotapi.BotCommand{Command: "search", Description: "关键词检索模式"},
		tgbotapi.BotCommand{Command: "report", Description: "日报周报模式"},
	)
	if _, err := t.api.Request(cfg); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	return nil
}

// SetWebhook points Telegram at url. An empty url removes the webhook so
// long polling works.
func (t *Telegram) SetWebhook(url string) error {
	if url == "" {
		_, err := t.api.Request(tgbotapi.DeleteWebhookConfig{})
		return err
	}
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}
	if _, err := t.api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// Poll receives updates by long polling until ctx is done.
func (t *Telegram) Poll(ctx context.Context, handle func(Event)) error {
	if t.bot == nil {
		return errors.New("polling needs a live bot connection")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if ev, ok := EventFromUpdate(update); ok {
				handle(ev)
			}
		}
	}
}

// DecodeUpdate parses a webhook body. ok is false for updates that carry
// nothing the router handles.
func DecodeUpdate(body []byte) (ev Event, ok bool, err error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return Event{}, false, fmt.Errorf("decode update: %w", err)
	}
	ev, ok = EventFromUpdate(update)
	return ev, ok, nil
}

// displayName prefers the full name over the @handle.
func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.UserName
}

func EventFromUpdate(update tgbotapi.Update) (Event, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return Event{}, false
	}

	ev := Event{
		UserID:    strconv.FormatInt(msg.Chat.ID, 10),
		UserName:  displayName(msg.From),
		MessageID: messageHandle(msg.Chat.ID, msg.MessageID),
	}

	if msg.IsCommand() {
		cmd := msg.Command()
		if cmd == "start" {
			ev.Type = EventEntered
			return ev, true
		}
		ev.Type = EventMenu
		if key, ok := commandMenus[cmd]; ok {
			ev.MenuKey = key
		} else {
			ev.MenuKey = strings.ToUpper(cmd)
		}
		return ev, true
	}

	ev.Type = EventMessage
	switch {
	case len(msg.Photo) > 0:
		ev.MessageType = MessageImage
		// sizes are ordered smallest first
		ev.FileKey = msg.Photo[len(msg.Photo)-1].FileID
		ev.Text = msg.Caption
	case msg.Text != "":
		ev.MessageType = MessageText
		ev.Text = msg.Text
	default:
		ev.MessageType = MessageOther
	}
	return ev, true
}
