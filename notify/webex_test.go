package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassamadnan/delivnotify/config"
)

func TestWebexSend(t *testing.T) {
	var got messageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer bot-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer srv.Close()

	wx := NewWebex(config.Webex{BotToken: "bot-token", RoomID: "room-1", BaseURL: srv.URL}, nil)
	wx.HTTPClient = srv.Client()

	err := wx.Send(context.Background(), "**hi**")
	require.NoError(t, err)
	assert.Equal(t, "room-1", got.RoomID)
	assert.Equal(t, "**hi**", got.Markdown)
	assert.Equal(t, "hi", got.Text)
}

func TestWebexSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Could not find a room with provided ID.","trackingId":"ROUTER_1"}`))
	}))
	defer srv.Close()

	wx := NewWebex(config.Webex{BotToken: "bot-token", RoomID: "room-1", BaseURL: srv.URL}, nil)
	wx.HTTPClient = srv.Client()

	err := wx.Send(context.Background(), "hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "ROUTER_1", apiErr.TrackingID)
	assert.Contains(t, err.Error(), "Could not find a room")
}

func TestWebexSendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	wx := NewWebex(config.Webex{BotToken: "bot-token", RoomID: "room-1", BaseURL: srv.URL}, nil)
	assert.Error(t, wx.Send(context.Background(), "hi"))
}

func TestWebexNotConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Webex
	}{
		{"no token", config.Webex{RoomID: "room"}},
		{"no room", config.Webex{BotToken: "token"}},
		{"placeholder token", config.Webex{BotToken: "YOUR_WEBEX_BOT_TOKEN", RoomID: "room"}},
		{"placeholder room", config.Webex{BotToken: "token", RoomID: "<room id>"}},
		{"blank room", config.Webex{BotToken: "token", RoomID: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("no request expected")
			}))
			defer srv.Close()
			tt.cfg.BaseURL = srv.URL

			err := NewWebex(tt.cfg, nil).Send(context.Background(), "hi")
			assert.ErrorIs(t, err, ErrNotConfigured)
		})
	}
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, isPlaceholder(""))
	assert.True(t, isPlaceholder("your_room_id"))
	assert.True(t, isPlaceholder("changeme"))
	assert.False(t, isPlaceholder("Y2lzY29zcGFyazovL3VzL1JPT00v"))
}
