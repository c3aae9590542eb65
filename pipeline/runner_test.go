package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bassamadnan/delivnotify/config"
	"github.com/bassamadnan/delivnotify/extract"
	"github.com/bassamadnan/delivnotify/mailbox"
	"github.com/bassamadnan/delivnotify/metrics"
	"github.com/bassamadnan/delivnotify/notify"
)

type fakeMailbox struct {
	emails    []mailbox.RawEmail
	searchErr error
	markErr   map[string]error
	marked    []string
	lastQuery mailbox.Query
}

func (f *fakeMailbox) Search(_ context.Context, q mailbox.Query) (iter.Seq[mailbox.RawEmail], error) {
	f.lastQuery = q
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return slices.Values(f.emails), nil
}

func (f *fakeMailbox) MarkRead(_ context.Context, id string) error {
	if err := f.markErr[id]; err != nil {
		return err
	}
	f.marked = append(f.marked, id)
	return nil
}

type fakeSender struct {
	sent []string
	errs []error // consumed in order, nil once exhausted
}

func (f *fakeSender) Send(_ context.Context, markdown string) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, markdown)
	return nil
}

const (
	tonerSubject = "[実験実習購入]62/トナーカートリッジ（シアン）"
	tonerBody    = "下記の品が納品されました。\n書類は精密事務室(305号室)へ提出してください。"
)

func toner(id string) mailbox.RawEmail {
	return mailbox.RawEmail{ID: id, Subject: tonerSubject, Body: tonerBody}
}

func newRunner(mb Mailbox, s Sender) (*Runner, *metrics.Recorder) {
	rec := metrics.New()
	q := mailbox.Query{SubjectMarker: config.DefaultMarker, MaxAge: 24 * time.Hour, UnreadOnly: true}
	return NewRunner(mb, extract.New(config.DefaultMarker, nil), s, q, rec, nil), rec
}

func TestRunDelivers(t *testing.T) {
	mb := &fakeMailbox{emails: []mailbox.RawEmail{toner("m1")}}
	s := &fakeSender{}
	r, rec := newRunner(mb, s)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Found: 1, Sent: 1}, sum)
	assert.Equal(t, []string{"m1"}, mb.marked)
	require.Len(t, s.sent, 1)
	assert.Contains(t, s.sent[0], "トナーカートリッジ")
	assert.Contains(t, s.sent[0], "62")
	assert.Contains(t, s.sent[0], "シアン")
	assert.Contains(t, s.sent[0], notify.OfficeLine("精密事務室(305号室)"))
	assert.Equal(t, `subject:"[実験実習購入]" newer_than:1d is:unread`, mb.lastQuery.Gmail())

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.EmailsFound))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Notifications.WithLabelValues(metrics.StatusSent)))
}

func TestRunSkipsMessagesWithoutDetails(t *testing.T) {
	mb := &fakeMailbox{emails: []mailbox.RawEmail{{ID: "m1", Subject: "会議のお知らせ", Body: "明日10時から"}}}
	s := &fakeSender{}
	r, rec := newRunner(mb, s)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Found: 1, Skipped: 1}, sum)
	assert.Empty(t, s.sent)
	assert.Empty(t, mb.marked)
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.EmailsSkipped))
}

func TestRunNoCandidates(t *testing.T) {
	r, _ := newRunner(&fakeMailbox{}, &fakeSender{})

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestRunNoCandidatesLogsSearchFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	q := mailbox.Query{SubjectMarker: config.DefaultMarker, MaxAge: 24 * time.Hour, UnreadOnly: true}
	r := NewRunner(&fakeMailbox{}, extract.New(config.DefaultMarker, nil), &fakeSender{}, q, nil, zap.New(core))

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	entries := logs.FilterMessage("No candidate emails").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, config.DefaultMarker, fields["marker"])
	assert.Equal(t, 24*time.Hour, fields["max_age"])
	assert.Equal(t, true, fields["unread_only"])
	assert.NotContains(t, fields, "query")
}

func TestRunSearchFailure(t *testing.T) {
	boom := errors.New("list failed")
	r, _ := newRunner(&fakeMailbox{searchErr: boom}, &fakeSender{})

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunContinuesAfterSendFailure(t *testing.T) {
	mb := &fakeMailbox{emails: []mailbox.RawEmail{toner("m1"), toner("m2")}}
	s := &fakeSender{errs: []error{errors.New("503")}}
	r, rec := newRunner(mb, s)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Found: 2, Sent: 1, Failed: 1}, sum)
	assert.Equal(t, []string{"m2"}, mb.marked, "failed message stays unread")
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Notifications.WithLabelValues(metrics.StatusFailed)))
}

func TestRunMarkReadFailureKeepsSent(t *testing.T) {
	mb := &fakeMailbox{
		emails:  []mailbox.RawEmail{toner("m1"), toner("m2")},
		markErr: map[string]error{"m1": &mailbox.UpdateError{MessageID: "m1", Err: errors.New("403")}},
	}
	r, rec := newRunner(mb, &fakeSender{})

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Found: 2, Sent: 2, MarkReadFailed: 1}, sum)
	assert.Equal(t, []string{"m2"}, mb.marked)
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.MarkReadFailures))
}

func TestRunUnconfiguredWebex(t *testing.T) {
	mb := &fakeMailbox{emails: []mailbox.RawEmail{toner("m1"), toner("m2")}}
	wx := notify.NewWebex(config.Webex{BotToken: "bot", RoomID: ""}, nil)
	r, _ := newRunner(mb, wx)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Found: 2, Failed: 2}, sum)
	assert.Empty(t, mb.marked)
}

func TestRunDryRun(t *testing.T) {
	mb := &fakeMailbox{emails: []mailbox.RawEmail{toner("m1")}}
	s := &fakeSender{}
	r, _ := newRunner(mb, s)
	var out bytes.Buffer
	r.DryRun = true
	r.Out = &out

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Found: 1}, sum)
	assert.Empty(t, s.sent)
	assert.Empty(t, mb.marked)
	assert.Contains(t, out.String(), "トナーカートリッジ")
	assert.Contains(t, out.String(), "m1")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, _ := newRunner(&fakeMailbox{}, &fakeSender{})

	_, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectAndDeliver(t *testing.T) {
	mb := &fakeMailbox{emails: []mailbox.RawEmail{
		toner("m1"),
		{ID: "m2", Subject: "ニュースレター"},
	}}
	s := &fakeSender{}
	r, _ := newRunner(mb, s)

	cands, err := r.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "m1", cands[0].Email.ID)
	assert.Equal(t, "62", cands[0].Record.RequestNumber)
	assert.Equal(t, tonerSubject, cands[0].Record.Subject)
	assert.Empty(t, s.sent, "collect does not send")

	require.NoError(t, r.Deliver(context.Background(), cands[0]))
	assert.Equal(t, []string{cands[0].Markdown}, s.sent)
	assert.Equal(t, []string{"m1"}, mb.marked)
}

func TestDeliverErrors(t *testing.T) {
	mb := &fakeMailbox{markErr: map[string]error{"m1": errors.New("403")}}
	r, _ := newRunner(mb, &fakeSender{errs: []error{errors.New("500")}})
	c := Candidate{Email: toner("m1"), Markdown: "x"}

	var sendErr *SendError
	require.ErrorAs(t, r.Deliver(context.Background(), c), &sendErr)
	assert.Equal(t, "m1", sendErr.MessageID)

	var markErr *MarkReadError
	require.ErrorAs(t, r.Deliver(context.Background(), c), &markErr)
	assert.Equal(t, "m1", markErr.MessageID)
}

func TestRunPostsToWebex(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []map[string]string
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		mu.Lock()
		got = append(got, body)
		auth = req.Header.Get("Authorization")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer srv.Close()

	mb := &fakeMailbox{emails: []mailbox.RawEmail{toner("m1")}}
	wx := notify.NewWebex(config.Webex{BotToken: "bot-token", RoomID: "room-1", BaseURL: srv.URL}, nil)
	r, _ := newRunner(mb, wx)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, []string{"m1"}, mb.marked)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "Bearer bot-token", auth)
	assert.Equal(t, "room-1", got[0]["roomId"])
	assert.Contains(t, got[0]["markdown"], "トナーカートリッジ")
	assert.NotEmpty(t, got[0]["text"])
}
