package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification 封装一条发给用户的建议。
type Notification struct {
	UserID  int64
	ChatID  string
	Kind    string
	Subject string
	Lines   []string
	At      time.Time
}

// Notifier 定义建议投递接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken      string
	defaultChatID string
	baseURL       string
	client        *http.Client
	logger        zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
func NewTelegramNotifier(botToken, defaultChatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken:      botToken,
		defaultChatID: defaultChatID,
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{Timeout: timeout},
		logger:        logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。用户自己的 chat id 优先。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	chatID := n.defaultChatID
	if note.ChatID != "" {
		chatID = note.ChatID
	}
	if chatID == "" {
		return fmt.Errorf("telegram chat id 未配置")
	}

	payload := map[string]string{
		"chat_id": chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Int64("user_id", note.UserID).
		Str("kind", note.Kind).
		Str("subject", note.Subject).
		Msg("建议已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[DeFi Advisor]\n")
	builder.WriteString(note.Subject)
	builder.WriteString("\n")
	for _, line := range note.Lines {
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s UTC", note.At.UTC().Format(time.RFC3339)))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

// LogNotifier 只写日志, 用于 dry-run 和未配置 Telegram 的场合。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志通知器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify 输出单条建议日志。
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info().
		Int64("user_id", note.UserID).
		Str("kind", note.Kind).
		Str("subject", note.Subject).
		Strs("lines", note.Lines).
		Msg("advisory notification")
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
