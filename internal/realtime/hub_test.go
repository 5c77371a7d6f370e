package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/maelcorre/fleetdesk/internal/auth"
)

// testClock is a mutex-guarded clock: connection goroutines read it through
// the registry while the test advances it.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type hubFixture struct {
	registry *Registry
	hub      *Hub
	server   *httptest.Server
	jwt      *auth.JWTService
	clock    *testClock
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	clock := &testClock{now: time.Now()}
	registry := NewRegistry(WithRegistryClock(clock.Now))
	hub := NewHub(registry)

	jwtSvc, err := auth.NewJWTService(auth.JWTConfig{Secret: "test-secret", Issuer: "fleetdesk-test"})
	require.NoError(t, err)

	gate, err := NewAuthenticator(jwtSvc, DefaultChannelPath)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := gate.Authenticate(r)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		hub.Serve(claims.UserID, w, r)
	}))
	t.Cleanup(server.Close)

	return &hubFixture{registry: registry, hub: hub, server: server, jwt: jwtSvc, clock: clock}
}

func (f *hubFixture) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()

	token, err := f.jwt.GenerateAccessToken(auth.AccessTokenInput{UserID: userID})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + DefaultChannelPath + "?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return len(f.registry.ConnectionsFor(userID)) > 0
	}, time.Second, 5*time.Millisecond)

	return conn
}

func TestHubServeRegistersAndUnregisters(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t, 42)
	require.Equal(t, 1, f.registry.Len())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return f.registry.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHubPushDeliversEvent(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t, 42)
	connections := f.registry.ConnectionsFor(42)
	require.Len(t, connections, 1)

	payload := NotificationPayload{
		NotificationID:   7,
		UserID:           42,
		Title:            "Mission assigned",
		SentDate:         time.Now().UTC(),
		NotificationType: "Mission",
		Priority:         "Normal",
		Status:           "Unread",
	}
	require.NoError(t, f.hub.Push(connections[0], Event{Event: EventReceiveNotification, Data: payload}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var received struct {
		Event string `json:"event"`
		Data  struct {
			NotificationID int64  `json:"notificationId"`
			UserID         int64  `json:"userId"`
			Title          string `json:"title"`
			Status         string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(message, &received))
	require.Equal(t, EventReceiveNotification, received.Event)
	require.Equal(t, int64(7), received.Data.NotificationID)
	require.Equal(t, int64(42), received.Data.UserID)
	require.Equal(t, "Mission assigned", received.Data.Title)
	require.Equal(t, "Unread", received.Data.Status)
}

func TestHubPushUnknownConnection(t *testing.T) {
	f := newHubFixture(t)

	err := f.hub.Push("no-such-connection", Event{Event: EventReceiveNotification})
	require.Error(t, err)
}

func TestHubHeartbeatKeepsConnectionAlive(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t, 42)
	connections := f.registry.ConnectionsFor(42)
	require.Len(t, connections, 1)

	// Advance the presence clock past the timeout, then heartbeat.
	f.clock.Advance(10 * time.Minute)
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "heartbeat"}))

	// Give the read loop a moment to process the frame before sweeping.
	time.Sleep(100 * time.Millisecond)
	require.Empty(t, f.registry.Sweep(5*time.Minute))
	require.Equal(t, 1, f.registry.Len())
}

func TestHubStaleConnectionIsSwept(t *testing.T) {
	f := newHubFixture(t)

	f.dial(t, 42)

	f.clock.Advance(10 * time.Minute)
	removed := f.registry.Sweep(5 * time.Minute)
	require.Len(t, removed, 1)
	require.Equal(t, 0, f.registry.Len())
}

func TestHubDisconnectClosesSweptSocket(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t, 42)

	f.clock.Advance(10 * time.Minute)
	removed := f.registry.Sweep(5 * time.Minute)
	require.Len(t, removed, 1)

	// Closing the hub side must reach the client even though its transport was
	// still alive when presence expired.
	for _, id := range removed {
		f.hub.Disconnect(id)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	// Disconnecting an already-gone id is a no-op.
	f.hub.Disconnect(removed[0])
	require.Equal(t, int64(0), f.hub.ActiveConnections())
}

func TestHubUnknownActionIsIgnored(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t, 42)
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "mystery"}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	// The connection survives malformed and unknown control frames.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, f.registry.Len())
}

func TestHostWithoutPort(t *testing.T) {
	require.Equal(t, "example.com", hostWithoutPort("example.com:8080"))
	require.Equal(t, "example.com", hostWithoutPort("http://example.com:8080"))
	require.Equal(t, "localhost", hostWithoutPort("https://localhost"))
	require.Equal(t, "", hostWithoutPort("  "))
}

func TestIsLoopback(t *testing.T) {
	require.True(t, isLoopback("127.0.0.1"))
	require.True(t, isLoopback("localhost"))
	require.False(t, isLoopback("example.com"))
}
