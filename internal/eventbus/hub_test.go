package eventbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/storage"
)

func newTestHub(t *testing.T) (*Hub, *Store) {
	t.Helper()
	db, err := storage.Open(storage.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	_, err = db.Conn().Exec(`INSERT INTO user (id, name) VALUES ('u1', 'Alice')`)
	require.NoError(t, err)

	store := NewStore(db)
	return NewHub(store, zap.NewNop()), store
}

func TestPublish_PersistsAndAssignsID(t *testing.T) {
	hub, _ := newTestHub(t)

	ev, err := hub.Publish(context.Background(), core.UserID("u1"), KindRecommendation, map[string]string{"date": "2026-08-03"})
	require.NoError(t, err)
	require.NotZero(t, ev.ID)
}

func TestPublish_ReplaysToLateSubscriber(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	_, err := hub.Publish(ctx, core.UserID("u1"), KindApprovalRequest, map[string]string{"thread": "t1"})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, hub.ServeWS(w, r, core.UserID("u1"), 0))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, KindApprovalRequest, got.Kind)
}

func TestPublish_DeliversToLiveSubscriber(t *testing.T) {
	hub, _ := newTestHub(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, hub.ServeWS(w, r, core.UserID("u1"), 0))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount(core.UserID("u1")) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, hub.SubscriberCount(core.UserID("u1")))

	_, err = hub.Publish(context.Background(), core.UserID("u1"), KindCalendarFinalized, map[string]string{"event_id": "e1"})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, KindCalendarFinalized, got.Kind)
}

func TestSince_OnlyReturnsNewerEvents(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()

	first, err := hub.Publish(ctx, core.UserID("u1"), KindRecoordination, map[string]bool{"needs": true})
	require.NoError(t, err)
	_, err = hub.Publish(ctx, core.UserID("u1"), KindRecoordination, map[string]bool{"needs": false})
	require.NoError(t, err)

	events, err := store.Since(ctx, core.UserID("u1"), first.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
}
