package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiseNet-Web/gestasso-sub000/internal/api"
	"github.com/RiseNet-Web/gestasso-sub000/internal/finance"
	"github.com/RiseNet-Web/gestasso-sub000/internal/model"
	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
	"github.com/RiseNet-Web/gestasso-sub000/internal/store"
)

func dialHub(t *testing.T, hub *api.WSHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSHub_PublishReachesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := api.NewWSHub()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	amount := money.MustParse("12.50")
	hub.Publish(model.Notification{Type: model.NotifyAccountUpdated, MemberID: "alice", Amount: &amount})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got model.Notification
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, model.NotifyAccountUpdated, got.Type)
	assert.Equal(t, "alice", got.MemberID)
	require.NotNil(t, got.Amount)
	assert.Equal(t, "12.50", got.Amount.String())
}

func TestWSHub_DistributionIsBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := api.NewWSHub()
	go hub.Run(ctx)

	svc := finance.NewService(store.NewMemoryStore(), finance.WithNotifier(hub))
	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	e, err := svc.CreateEvent(ctx, finance.NewEvent{
		ClubID: "club-1", TeamID: "team-1", TotalBudget: money.MustParse("10.00"),
	})
	require.NoError(t, err)
	_, err = svc.RegisterParticipant(ctx, e.ID, "alice")
	require.NoError(t, err)
	_, err = svc.ActivateEvent(ctx, e.ID)
	require.NoError(t, err)
	_, err = svc.Distribute(ctx, e.ID)
	require.NoError(t, err)

	var types []string
	for len(types) < 2 {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var n model.Notification
		require.NoError(t, json.Unmarshal(data, &n))
		types = append(types, n.Type)
	}
	assert.Equal(t, []string{model.NotifyEventUpdated, model.NotifyEventDistributed}, types)
}

func TestWSHub_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := api.NewWSHub()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
