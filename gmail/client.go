package gmail

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/bassamadnan/delivnotify/config"
	"github.com/bassamadnan/delivnotify/mailbox"
)

const (
	defaultUser = "me"
	unreadLabel = "UNREAD"
)

// Client is a Gmail API mailbox scoped to one account.
type Client struct {
	srv    *gmail.Service
	user   string
	logger *zap.Logger
}

// NewClient authenticates with the credential bundle and connects to the
// Gmail API. An expired or missing access token is refreshed up front so a
// rejected refresh token surfaces here as *mailbox.AuthError rather than on
// the first search. Extra options are applied after the authenticated HTTP
// client, which lets tests point the service at another endpoint.
func NewClient(ctx context.Context, cfg config.Gmail, user string, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if user == "" {
		user = defaultUser
	}

	ts, err := tokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	clientOpts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}, opts...)
	srv, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, &mailbox.AuthError{Reason: "unable to create Gmail service", Err: err}
	}
	logger.Info("Connected to Gmail API", zap.String("user", user))
	return &Client{srv: srv, user: user, logger: logger}, nil
}

func tokenSource(ctx context.Context, cfg config.Gmail) (oauth2.TokenSource, error) {
	switch {
	case cfg.ClientID == "":
		return nil, &mailbox.AuthError{Reason: "client id is not set"}
	case cfg.ClientSecret == "":
		return nil, &mailbox.AuthError{Reason: "client secret is not set"}
	case cfg.Token == "" && cfg.RefreshToken == "":
		return nil, &mailbox.AuthError{Reason: "neither access token nor refresh token is set"}
	}

	tokenURL := cfg.TokenURI
	if tokenURL == "" {
		tokenURL = config.DefaultTokenURI
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gmail.GmailModifyScope}
	}
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: google.Endpoint.AuthURL, TokenURL: tokenURL},
		Scopes:       scopes,
	}

	tok := &oauth2.Token{
		AccessToken:  cfg.Token,
		RefreshToken: cfg.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       cfg.TokenExpiry,
	}
	ts := oauthConfig.TokenSource(ctx, tok)
	if tok.Valid() {
		return ts, nil
	}
	if cfg.RefreshToken == "" {
		return nil, &mailbox.AuthError{Reason: "access token expired and no refresh token is set"}
	}
	if _, err := ts.Token(); err != nil {
		return nil, &mailbox.AuthError{Reason: "refresh token rejected", Err: err}
	}
	return ts, nil
}

// Search lists the messages matching q and returns them as a single-pass
// sequence. The first result page is requested before Search returns, so a
// failing search is reported as an error. Further pages and the full
// messages are fetched while the sequence is ranged over; a message that
// cannot be fetched is logged and skipped.
func (c *Client) Search(ctx context.Context, q mailbox.Query) (iter.Seq[mailbox.RawEmail], error) {
	query := q.Gmail()
	first, err := c.list(ctx, query, "")
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	c.logger.Info("Search returned messages",
		zap.String("query", query),
		zap.Int("page_size", len(first.Messages)),
		zap.Int64("estimate", first.ResultSizeEstimate),
	)

	return func(yield func(mailbox.RawEmail) bool) {
		page := first
		for {
			for _, m := range page.Messages {
				email, err := c.fetch(ctx, m.Id)
				if err != nil {
					c.logger.Warn("Skipping message", zap.String("message_id", m.Id), zap.Error(err))
					continue
				}
				c.logger.Debug("Fetched message",
					zap.String("message_id", email.ID),
					zap.String("subject", email.Subject),
					zap.String("body_head", head(email.Body, 100)),
				)
				if !yield(email) {
					return
				}
			}
			if page.NextPageToken == "" {
				return
			}
			next, err := c.list(ctx, query, page.NextPageToken)
			if err != nil {
				c.logger.Error("Unable to retrieve next result page", zap.String("query", query), zap.Error(err))
				return
			}
			page = next
		}
	}, nil
}

func (c *Client) list(ctx context.Context, query, pageToken string) (*gmail.ListMessagesResponse, error) {
	call := c.srv.Users.Messages.List(c.user).Q(query).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

func (c *Client) fetch(ctx context.Context, id string) (mailbox.RawEmail, error) {
	msg, err := c.srv.Users.Messages.Get(c.user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return mailbox.RawEmail{}, &mailbox.FetchError{MessageID: id, Err: err}
	}
	email, err := parseMessage(msg)
	if err != nil {
		return mailbox.RawEmail{}, &mailbox.FetchError{MessageID: id, Err: err}
	}
	return email, nil
}

// MarkRead removes the UNREAD label from a message.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	if _, err := c.srv.Users.Messages.Modify(c.user, id, req).Context(ctx).Do(); err != nil {
		return &mailbox.UpdateError{MessageID: id, Err: err}
	}
	return nil
}

// head returns at most n runes of s.
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
