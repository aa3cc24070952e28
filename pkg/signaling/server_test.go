package signaling

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T, cfg ServerConfig) (*Server, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping relay network test in short mode")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg.Mode = "release"
	srv := NewServer(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("relay did not shut down")
		}
	})
	return srv, ln.Addr().String()
}

func dialClient(t *testing.T, addr string) (*Client, chan Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	require.NotEmpty(t, c.ID())

	msgs := make(chan Message, 16)
	c.OnMessage(func(m Message) { msgs <- m })
	t.Cleanup(func() { _ = c.Close() })
	return c, msgs
}

func waitMessage(t *testing.T, msgs chan Message) Message {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for relay frame")
		return Message{}
	}
}

func TestRelayForwardsOffer(t *testing.T) {
	srv, addr := startRelay(t, ServerConfig{})
	alice, _ := dialClient(t, addr)
	bob, bobMsgs := dialClient(t, addr)

	require.Eventually(t, func() bool { return srv.PeerCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	sdp := map[string]string{"type": "offer", "sdp": "v=0"}
	require.NoError(t, alice.SendPayload(TypeOffer, bob.ID(), "conn-1", KindData, sdp))

	got := waitMessage(t, bobMsgs)
	assert.Equal(t, TypeOffer, got.Type)
	assert.Equal(t, alice.ID(), got.From)
	assert.Equal(t, "conn-1", got.ConnectionID)
	assert.Equal(t, KindData, got.Kind)
	assert.Empty(t, got.To)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, sdp, payload)
}

func TestRelayUnknownTarget(t *testing.T) {
	_, addr := startRelay(t, ServerConfig{})
	alice, aliceMsgs := dialClient(t, addr)

	require.NoError(t, alice.Send(Message{Type: TypeOffer, To: "nobody", ConnectionID: "conn-9"}))
	got := waitMessage(t, aliceMsgs)
	assert.Equal(t, TypeError, got.Type)
	assert.Equal(t, ErrPeerUnavailable, got.Error)
	assert.Equal(t, "conn-9", got.ConnectionID)
}

func TestRelayPing(t *testing.T) {
	_, addr := startRelay(t, ServerConfig{})
	alice, aliceMsgs := dialClient(t, addr)

	require.NoError(t, alice.Send(Message{Type: TypePing}))
	assert.Equal(t, TypePong, waitMessage(t, aliceMsgs).Type)
}

func TestRelayRateLimit(t *testing.T) {
	_, addr := startRelay(t, ServerConfig{RateLimit: 2, RateInterval: time.Minute})
	alice, aliceMsgs := dialClient(t, addr)

	for i := 0; i < 3; i++ {
		require.NoError(t, alice.Send(Message{Type: TypePing}))
	}
	assert.Equal(t, TypePong, waitMessage(t, aliceMsgs).Type)
	assert.Equal(t, TypePong, waitMessage(t, aliceMsgs).Type)
	limited := waitMessage(t, aliceMsgs)
	assert.Equal(t, TypeError, limited.Type)
	assert.Equal(t, "rate-limited", limited.Error)
}

func TestRelayDetachOnClose(t *testing.T) {
	srv, addr := startRelay(t, ServerConfig{})
	alice, _ := dialClient(t, addr)
	require.Eventually(t, func() bool { return srv.PeerCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return srv.PeerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	srv := NewServer(ServerConfig{Mode: "release"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string `json:"status"`
		Peers  int    `json:"peers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.Peers)
}

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"localhost:8089":             "ws://localhost:8089/api/ws",
		"http://10.0.0.2:8089":       "ws://10.0.0.2:8089/api/ws",
		"https://relay.example.com/": "wss://relay.example.com/api/ws",
		"ws://host:1/custom":         "ws://host:1/custom",
	}
	for in, want := range cases {
		got, err := WSURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := WSURL("ftp://host")
	var addrErr *AddressError
	require.ErrorAs(t, err, &addrErr)
	assert.Equal(t, "ftp://host", addrErr.Address)
}

func TestWindowLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newWindowLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "limits are per peer")

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, rl.Allow("a"))

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))
	assert.True(t, newWindowLimiter(0, time.Second).Allow("x"))
}
