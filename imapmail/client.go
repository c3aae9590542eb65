package imapmail

import (
	"context"
	"fmt"
	"iter"
	"mime"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"go.uber.org/zap"

	"github.com/bassamadnan/delivnotify/config"
	"github.com/bassamadnan/delivnotify/mailbox"
)

// Client is an IMAP mailbox holding one selected folder for the whole run.
type Client struct {
	c      *imapclient.Client
	folder string
	logger *zap.Logger
	now    func() time.Time
}

// Dial connects, logs in and selects the configured folder. Every failure
// is reported as *mailbox.AuthError since nothing can run without it.
func Dial(ctx context.Context, cfg config.IMAP, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case cfg.Host == "":
		return nil, &mailbox.AuthError{Reason: "imap host is not set"}
	case cfg.Username == "" || cfg.Password == "":
		return nil, &mailbox.AuthError{Reason: "imap username or password is not set"}
	}
	port := cfg.Port
	if port == 0 {
		port = 993
	}
	folder := cfg.Mailbox
	if folder == "" {
		folder = "INBOX"
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	opts := &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}
	var (
		c   *imapclient.Client
		err error
	)
	if cfg.TLS {
		c, err = imapclient.DialTLS(addr, opts)
	} else {
		c, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, &mailbox.AuthError{Reason: "connecting to " + addr, Err: err}
	}

	if err := c.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = c.Close()
		return nil, &mailbox.AuthError{Reason: "login as " + cfg.Username, Err: err}
	}
	if _, err := c.Select(folder, nil).Wait(); err != nil {
		_ = c.Logout().Wait()
		return nil, &mailbox.AuthError{Reason: "selecting " + folder, Err: err}
	}
	logger.Info("Connected to IMAP server", zap.String("addr", addr), zap.String("mailbox", folder))
	return &Client{c: c, folder: folder, logger: logger, now: time.Now}, nil
}

// Search runs one UID SEARCH and returns the hits as a single-pass
// sequence; bodies are fetched while it is ranged over.
func (c *Client) Search(ctx context.Context, q mailbox.Query) (iter.Seq[mailbox.RawEmail], error) {
	if q.Raw != "" {
		c.logger.Warn("Raw Gmail query is ignored by the IMAP backend", zap.String("query", q.Raw))
	}
	since := q.Since(c.now())
	data, err := c.c.UIDSearch(searchCriteria(q, since), nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("uid search in %s: %w", c.folder, err)
	}
	uids := data.AllUIDs()
	c.logger.Info("Search returned messages", zap.String("mailbox", c.folder), zap.Int("count", len(uids)))

	return func(yield func(mailbox.RawEmail) bool) {
		for _, uid := range uids {
			if ctx.Err() != nil {
				return
			}
			email, internal, err := c.fetch(uid)
			if err != nil {
				c.logger.Warn("Skipping message", zap.Uint32("uid", uint32(uid)), zap.Error(err))
				continue
			}
			// SINCE only has day granularity.
			if !since.IsZero() && !internal.IsZero() && internal.Before(since) {
				c.logger.Debug("Skipping message older than max age", zap.Uint32("uid", uint32(uid)))
				continue
			}
			if !yield(email) {
				return
			}
		}
	}, nil
}

func searchCriteria(q mailbox.Query, since time.Time) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}
	if q.SubjectMarker != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key:   "Subject",
			Value: q.SubjectMarker,
		})
	}
	if !since.IsZero() {
		criteria.Since = since
	}
	if q.UnreadOnly {
		criteria.NotFlag = append(criteria.NotFlag, imap.FlagSeen)
	}
	return criteria
}

func (c *Client) fetch(uid imap.UID) (mailbox.RawEmail, time.Time, error) {
	id := formatUID(uid)
	section := &imap.FetchItemBodySection{Peek: true}
	cmd := c.c.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	})
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		return mailbox.RawEmail{}, time.Time{}, &mailbox.FetchError{MessageID: id, Err: fmt.Errorf("message not found")}
	}
	buf, err := msg.Collect()
	if err != nil {
		return mailbox.RawEmail{}, time.Time{}, &mailbox.FetchError{MessageID: id, Err: err}
	}
	if err := cmd.Close(); err != nil {
		return mailbox.RawEmail{}, time.Time{}, &mailbox.FetchError{MessageID: id, Err: err}
	}

	email := mailbox.RawEmail{ID: id, Subject: mailbox.NoSubject}
	if buf.Envelope != nil && buf.Envelope.Subject != "" {
		email.Subject = buf.Envelope.Subject
	}
	body, err := plainTextBody(buf.FindBodySection(section))
	if err != nil {
		return mailbox.RawEmail{}, time.Time{}, &mailbox.FetchError{MessageID: id, Err: err}
	}
	email.Body = body
	return email, buf.InternalDate, nil
}

// MarkRead sets \Seen on the message with the given UID.
func (c *Client) MarkRead(_ context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return &mailbox.UpdateError{MessageID: id, Err: err}
	}
	store := c.c.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := store.Close(); err != nil {
		return &mailbox.UpdateError{MessageID: id, Err: err}
	}
	return nil
}

// Close logs out and closes the connection.
func (c *Client) Close() error {
	if err := c.c.Logout().Wait(); err != nil {
		_ = c.c.Close()
		return err
	}
	return c.c.Close()
}

func formatUID(uid imap.UID) string {
	return strconv.FormatUint(uint64(uid), 10)
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid uid %q", id)
	}
	return imap.UID(n), nil
}
