package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a scripted gateway endpoint: it sends hello, verifies
// the identify frame, answers READY, then replays any frames pushed on
// the outbound channel.
type fakeGateway struct {
	srv        *httptest.Server
	identifyCh chan identifyData
	outbound   chan []byte
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	fg := &fakeGateway{
		identifyCh: make(chan identifyData, 1),
		outbound:   make(chan []byte, 16),
	}

	upgrader := websocket.Upgrader{}
	fg.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, _ := marshalPayload(opHello, helloData{HeartbeatInterval: 45000})
		if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
			return
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var p payload
		require.NoError(t, json.Unmarshal(frame, &p))
		require.Equal(t, opIdentify, p.Op)
		var ident identifyData
		require.NoError(t, json.Unmarshal(p.D, &ident))
		fg.identifyCh <- ident

		seq := int64(1)
		ready := payload{Op: opDispatch, T: "READY", S: &seq}
		ready.D, _ = json.Marshal(readyData{Version: 10, SessionID: "sess"})
		raw, _ := json.Marshal(ready)
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}

		// Replay scripted frames; drain client frames in the background
		// so heartbeats do not block the write side.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for frame := range fg.outbound {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(fg.srv.Close)
	t.Cleanup(func() { close(fg.outbound) }) // unblocks the replay loop before srv.Close
	return fg
}

func (fg *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(fg.srv.URL, "http")
}

func (fg *fakeGateway) dispatch(t *testing.T, seq int64, eventType string, data string) {
	t.Helper()
	p := payload{Op: opDispatch, T: eventType, S: &seq, D: []byte(data)}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	fg.outbound <- raw
}

func TestClient_Connect(t *testing.T) {
	t.Run("given a gateway, when connected, then identify carries shard info and READY completes the call", func(t *testing.T) {
		fg := newFakeGateway(t)
		mirror := newFakeMirror()

		c := NewClient(Options{
			Token:      "tok",
			ShardID:    1,
			ShardCount: 2,
			URL:        fg.url(),
			Logger:     zerolog.Nop(),
			Store:      mirror,
		})
		defer c.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, c.Connect(ctx))

		ident := <-fg.identifyCh
		assert.Equal(t, "tok", ident.Token)
		assert.Equal(t, [2]int{1, 2}, ident.Shard)
		assert.Equal(t, IntentGuilds, ident.Intents)
	})

	t.Run("given dispatches after READY, when received, then state flows into the mirror", func(t *testing.T) {
		fg := newFakeGateway(t)
		mirror := newFakeMirror()

		c := NewClient(Options{
			Token:  "tok",
			URL:    fg.url(),
			Logger: zerolog.Nop(),
			Store:  mirror,
		})
		defer c.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, c.Connect(ctx))

		fg.dispatch(t, 2, "GUILD_CREATE", `{"id":"77","name":"late"}`)
		fg.dispatch(t, 3, "CHANNEL_CREATE", `{"id":"88","guild_id":"77","type":0}`)

		require.Eventually(t, func() bool {
			return mirror.hasGuild("77") && mirror.hasChannel("88")
		}, 3*time.Second, 10*time.Millisecond)

		n, err := c.GuildCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("given a closed client, when counting guilds, then ErrClosed is returned", func(t *testing.T) {
		fg := newFakeGateway(t)
		c := NewClient(Options{
			Token:  "tok",
			URL:    fg.url(),
			Logger: zerolog.Nop(),
			Store:  newFakeMirror(),
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, c.Connect(ctx))
		require.NoError(t, c.Close())

		_, err := c.GuildCount(ctx)
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("given missing options, when connecting, then a descriptive error is returned", func(t *testing.T) {
		c := NewClient(Options{Token: "tok", Logger: zerolog.Nop(), Store: newFakeMirror()})
		err := c.Connect(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "URL")
	})
}
