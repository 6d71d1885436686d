package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
)

func TestUpdateHub_StreamsUpdates(t *testing.T) {
	f := newFixture(t)

	hub := NewUpdateHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	f.store.OnUpdate(hub.Listener())

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, hub.HasClients, time.Second, 10*time.Millisecond)

	_, err = f.store.Update(ctx, period.Key{Product: "ls8", Year: 2021, Month: 3}, true)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var event UpdateEvent
	require.NoError(t, json.Unmarshal(message, &event))
	require.Equal(t, "ls8", event.Product)
	require.Equal(t, "month", event.Granularity)
	require.Equal(t, 2021, event.Year)
	require.Equal(t, 3, event.Month)
	require.Equal(t, 2, event.DatasetCount)
}

func TestUpdateHub_NoClients(t *testing.T) {
	hub := NewUpdateHub(zerolog.Nop())
	require.False(t, hub.HasClients())

	// Without subscribers the listener does not queue anything
	hub.Listener()(period.Key{Product: "ls8"}, overview.Empty(time.Now()))
	require.Len(t, hub.broadcast, 0)
}

func TestNewUpdateEvent_Global(t *testing.T) {
	o := overview.Empty(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	o.DatasetCount = 7

	event := NewUpdateEvent(period.Global(2021, 0, 0), o)
	require.Equal(t, "_all", event.Product)
	require.Equal(t, "year", event.Granularity)
	require.Equal(t, 7, event.DatasetCount)
	require.Zero(t, event.Month)
}
