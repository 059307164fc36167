package notification

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemunganga/marketplace/internal/logging"
	"github.com/georgemunganga/marketplace/internal/middleware"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(NewMemoryRepository(), logging.Discard())
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if as := r.URL.Query().Get("as"); as != "" {
				r = r.WithContext(middleware.WithUserID(r.Context(), as))
			}
			next.ServeHTTP(w, r)
		})
	})
	NewHandler(hub).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/notifications/ws?as=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Notification {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var n Notification
	require.NoError(t, conn.ReadJSON(&n))
	return n
}

func TestQueuedWhileOfflineThenReplayed(t *testing.T) {
	ctx := context.Background()
	hub, srv := newTestServer(t)

	assert.False(t, hub.Notify(ctx, "u1", "you were appointed owner"))
	assert.False(t, hub.Notify(ctx, "u1", "store reopened"))
	pending, err := hub.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	conn := dial(t, srv, "u1")
	assert.Equal(t, "you were appointed owner", read(t, conn).Message)
	assert.Equal(t, "store reopened", read(t, conn).Message)

	pending, err = hub.Pending(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLiveDelivery(t *testing.T) {
	ctx := context.Background()
	hub, srv := newTestServer(t)

	conn := dial(t, srv, "u2")
	require.Eventually(t, func() bool { return hub.Online("u2") }, time.Second, 10*time.Millisecond)

	assert.True(t, hub.Notify(ctx, "u2", "new sale"))
	n := read(t, conn)
	assert.Equal(t, "u2", n.UserID)
	assert.Equal(t, "new sale", n.Message)

	assert.False(t, hub.Notify(ctx, "other", "not for u2"))

	conn.Close()
	assert.Eventually(t, func() bool { return !hub.Online("u2") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, hub.Notify(ctx, "u2", "after close"))
}

func TestListPendingRequiresUser(t *testing.T) {
	hub, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/notifications")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	hub.Notify(context.Background(), "u3", "hello")
	resp, err = http.Get(srv.URL + "/api/v1/notifications?as=u3")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// stallingRepo blocks queue writes for one user until release is closed.
type stallingRepo struct {
	Repository
	user    string
	entered chan struct{}
	release chan struct{}
}

func (r *stallingRepo) Enqueue(ctx context.Context, n *Notification) error {
	if n.UserID == r.user {
		close(r.entered)
		<-r.release
	}
	return r.Repository.Enqueue(ctx, n)
}

func TestSlowQueueWriteDoesNotBlockOtherUsers(t *testing.T) {
	ctx := context.Background()
	repo := &stallingRepo{
		Repository: NewMemoryRepository(),
		user:       "slow",
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	hub := NewHub(repo, logging.Discard())

	other := "fast"
	for i := 0; stripeOf(other) == stripeOf("slow"); i++ {
		other = fmt.Sprintf("fast-%d", i)
	}

	done := make(chan struct{})
	go func() {
		hub.Notify(ctx, "slow", "stalled")
		close(done)
	}()
	<-repo.entered

	queued := make(chan bool)
	go func() { queued <- hub.Notify(ctx, other, "goes through") }()
	select {
	case live := <-queued:
		assert.False(t, live)
	case <-time.After(2 * time.Second):
		t.Fatal("notification for another user waited on a stalled queue write")
	}
	assert.False(t, hub.Online("slow"))

	close(repo.release)
	<-done
	pending, err := hub.Pending(ctx, "slow")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
