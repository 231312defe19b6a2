package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/events"
)

func TestHub_BroadcastsEventsToClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.HandleConnection(w, r)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	listingID := uuid.New()
	ev := events.New(events.TypeTradeSettled, listingID, map[string]interface{}{"credit_tokens": 5})
	require.NoError(t, hub.Deliver(context.Background(), ev))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, events.TypeTradeSettled, got.Type)
	assert.Equal(t, listingID, got.AggregateID)
	assert.EqualValues(t, 5, got.Payload["credit_tokens"])
}

func TestHub_DeliverAfterCloseFails(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.Close()

	err := hub.Deliver(context.Background(), events.New(events.TypeMintRecorded, uuid.New(), nil))
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}
