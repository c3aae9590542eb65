package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/bassamadnan/delivnotify/config"
)

// ErrNotConfigured is returned when the bot token or room id is missing or
// still holds a template placeholder.
var ErrNotConfigured = errors.New("webex destination not configured")

// APIError is a non-2xx answer from the Webex messages endpoint.
type APIError struct {
	StatusCode int
	Message    string
	TrackingID string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.TrackingID != "" {
		return fmt.Sprintf("webex: %d %s (tracking id %s)", e.StatusCode, msg, e.TrackingID)
	}
	return fmt.Sprintf("webex: %d %s", e.StatusCode, msg)
}

type messageRequest struct {
	RoomID   string `json:"roomId"`
	Markdown string `json:"markdown"`
	Text     string `json:"text,omitempty"`
}

type messageResponse struct {
	ID         string `json:"id"`
	Message    string `json:"message"`
	TrackingID string `json:"trackingId"`
}

// Webex posts notifications to one room as a bot.
type Webex struct {
	cfg    config.Webex
	logger *zap.Logger

	// HTTPClient is the transport underneath the bearer-token client.
	// http.DefaultClient is used when nil.
	HTTPClient *http.Client
}

func NewWebex(cfg config.Webex, logger *zap.Logger) *Webex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webex{cfg: cfg, logger: logger}
}

// Configured reports whether both the bot token and the room id look real.
func (w *Webex) Configured() error {
	if isPlaceholder(w.cfg.BotToken) {
		return fmt.Errorf("%w: bot token is not set", ErrNotConfigured)
	}
	if isPlaceholder(w.cfg.RoomID) {
		return fmt.Errorf("%w: room id is not set", ErrNotConfigured)
	}
	return nil
}

// Send posts markdown as a single message. There is no retry.
func (w *Webex) Send(ctx context.Context, markdown string) error {
	if err := w.Configured(); err != nil {
		return err
	}

	base := w.cfg.BaseURL
	if base == "" {
		base = config.DefaultWebexBase
	}
	endpoint, err := url.JoinPath(base, "v1", "messages")
	if err != nil {
		return fmt.Errorf("webex endpoint from %q: %w", base, err)
	}

	payload, err := json.Marshal(messageRequest{
		RoomID:   w.cfg.RoomID,
		Markdown: markdown,
		Text:     PlainText(markdown),
	})
	if err != nil {
		return fmt.Errorf("encoding webex message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webex request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client(ctx).Do(req)
	if err != nil {
		return fmt.Errorf("posting to webex: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading webex response: %w", err)
	}
	var out messageResponse
	// Error bodies are not always JSON; the status code is enough then.
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if out.TrackingID == "" {
			out.TrackingID = resp.Header.Get("Trackingid")
		}
		return &APIError{StatusCode: resp.StatusCode, Message: out.Message, TrackingID: out.TrackingID}
	}

	w.logger.Info("Posted notification to Webex",
		zap.String("room_id", w.cfg.RoomID),
		zap.String("message_id", out.ID),
	)
	return nil
}

func (w *Webex) client(ctx context.Context) *http.Client {
	if w.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, w.HTTPClient)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: w.cfg.BotToken, TokenType: "Bearer"})
	return oauth2.NewClient(ctx, ts)
}

func isPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	upper := strings.ToUpper(v)
	switch {
	case strings.HasPrefix(upper, "YOUR_"), strings.HasPrefix(upper, "YOUR-"):
		return true
	case strings.HasPrefix(v, "<") && strings.HasSuffix(v, ">"):
		return true
	case upper == "CHANGEME", upper == "TODO", upper == "XXX":
		return true
	}
	return false
}
