package qq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQQ serves the token endpoint, the REST API and the gateway.
type fakeQQ struct {
	srv         *httptest.Server
	tokenCalls  atomic.Int32
	gatewayHits atomic.Int32

	mu       sync.Mutex
	posts    map[string][]string
	auth     []string
	identify map[string]interface{}
	beats    chan json.RawMessage

	// frames are written to the gateway after identify.
	frames   []string
	sendFail int
	meStatus int
}

func newFakeQQ(t *testing.T) *fakeQQ {
	f := &fakeQQ{
		posts:    make(map[string][]string),
		beats:    make(chan json.RawMessage, 16),
		meStatus: http.StatusOK,
	}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/app/getAppAccessToken", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["appId"] != "app" || body["clientSecret"] != "secret" {
			http.Error(w, `{"message":"bad secret"}`, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"7200"}`))
	})
	mux.HandleFunc("/gateway", func(w http.ResponseWriter, r *http.Request) {
		f.gatewayHits.Add(1)
		f.record(r)
		wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
		_ = json.NewEncoder(w).Encode(map[string]string{"url": wsURL})
	})
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		status := f.meStatus
		f.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"id":"bot"}`))
	})
	mux.HandleFunc("/channels/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.sendFail > 0 {
			f.sendFail--
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/channels/"), "/messages")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.posts[id] = append(f.posts[id], body["content"])
		_, _ = w.Write([]byte(`{"id":"m"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var ident map[string]interface{}
		if err := conn.ReadJSON(&ident); err != nil {
			return
		}
		f.mu.Lock()
		f.identify = ident
		frames := append([]string(nil), f.frames...)
		f.mu.Unlock()

		for _, fr := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(fr)); err != nil {
				return
			}
		}
		for {
			var p payload
			if err := conn.ReadJSON(&p); err != nil {
				return
			}
			if p.Op == opHeartbeat {
				f.beats <- p.D
			}
		}
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeQQ) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
}

func newTestChannel(f *fakeQQ, opts config.ChannelOptions) *Channel {
	return New(config.QQConfig{
		ChannelOptions: opts,
		AppID:          "app",
		AppSecret:      "secret",
		APIBase:        f.srv.URL,
	}, logging.New(nil, "silent"))
}

func TestNew_APIBase(t *testing.T) {
	log := logging.New(nil, "silent")
	assert.Equal(t, apiBase, New(config.QQConfig{}, log).apiBase)
	assert.Equal(t, sandboxAPIBase, New(config.QQConfig{Sandbox: true}, log).apiBase)
	assert.Equal(t, "http://localhost:9", New(config.QQConfig{APIBase: "http://localhost:9/"}, log).apiBase)
}

func TestSend_CachesToken(t *testing.T) {
	f := newFakeQQ(t)
	ch := newTestChannel(f, config.ChannelOptions{})

	require.NoError(t, ch.Send(context.Background(), "one", "C1"))
	require.NoError(t, ch.Send(context.Background(), "two", "C1"))

	assert.Equal(t, []string{"one", "two"}, f.posts["C1"])
	assert.Equal(t, int32(1), f.tokenCalls.Load())
	for _, a := range f.auth {
		assert.Equal(t, "QQBot tok-1", a)
	}
}

func TestSend_RetriesServerErrors(t *testing.T) {
	f := newFakeQQ(t)
	f.sendFail = 1
	ch := newTestChannel(f, config.ChannelOptions{SendRetries: 2, RetryBackoff: time.Millisecond})

	require.NoError(t, ch.Send(context.Background(), "hello", "C2"))
	assert.Equal(t, []string{"hello"}, f.posts["C2"])
}

func TestSend_Errors(t *testing.T) {
	f := newFakeQQ(t)
	ch := New(config.QQConfig{AppID: "app", AppSecret: "wrong", APIBase: f.srv.URL}, logging.New(nil, "silent"))

	err := ch.Send(context.Background(), "x", "C1")
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "qq", te.Channel)
	assert.Contains(t, err.Error(), "access token")

	err = ch.Send(context.Background(), "x", "")
	require.ErrorAs(t, err, &te)
}

func TestHealthCheck(t *testing.T) {
	f := newFakeQQ(t)
	ch := newTestChannel(f, config.ChannelOptions{})
	assert.True(t, ch.HealthCheck(context.Background()))

	f.mu.Lock()
	f.meStatus = http.StatusUnauthorized
	f.mu.Unlock()
	assert.False(t, ch.HealthCheck(context.Background()))
}

func TestHealthCheck_SlowTokenEndpoint(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	ch := New(config.QQConfig{AppID: "app", AppSecret: "secret", TokenURL: slow.URL}, logging.New(nil, "silent"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.False(t, ch.HealthCheck(ctx))
	assert.Less(t, time.Since(start), time.Second)

	err := ch.Send(ctx, "x", "C1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListen_GatewayFlow(t *testing.T) {
	f := newFakeQQ(t)
	f.frames = []string{
		`{"op":10,"d":{"heartbeat_interval":20}}`,
		`not json`,
		`{"op":0,"s":1,"t":"GUILD_CREATE","d":{}}`,
		`{"op":0,"s":2,"t":"AT_MESSAGE_CREATE","d":{"id":"m1","channel_id":"C9","content":"<@!123> ping","author":{"id":"u1","username":"alice"}}}`,
		`{"op":0,"s":3,"t":"MESSAGE_CREATE","d":{"id":"m2","channel_id":"C9","content":"bot says","author":{"id":"b","bot":true}}}`,
		`{"op":0,"s":4,"t":"MESSAGE_CREATE","d":{"id":"m3","channel_id":"C9","content":"second","author":{"id":"u2"}}}`,
	}
	ch := newTestChannel(f, config.ChannelOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan domain.ChannelMessage, 4)
	done := make(chan error, 1)
	go func() { done <- ch.Listen(ctx, out) }()

	first := <-out
	assert.Equal(t, "m1", first.ID)
	assert.Equal(t, "ping", first.Text)
	assert.Equal(t, "u1", first.SenderID)
	assert.Equal(t, "C9", first.Recipient())
	second := <-out
	assert.Equal(t, "second", second.Text)

	// Heartbeats switch to the hello interval and carry the last sequence.
	var seq json.RawMessage
	require.Eventually(t, func() bool {
		select {
		case seq = <-f.beats:
			return string(seq) == "4"
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	f.mu.Lock()
	ident := f.identify
	f.mu.Unlock()
	assert.EqualValues(t, opIdentify, ident["op"])
	d := ident["d"].(map[string]interface{})
	assert.Equal(t, "QQBot tok-1", d["token"])
	assert.EqualValues(t, intents, d["intents"])

	cancel()
	require.NoError(t, <-done)
}

func TestListen_ReconnectRequest(t *testing.T) {
	f := newFakeQQ(t)
	f.frames = []string{`{"op":7}`}
	ch := newTestChannel(f, config.ChannelOptions{})

	err := ch.Listen(context.Background(), make(chan domain.ChannelMessage))
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "listen", te.Op)
	assert.Contains(t, err.Error(), "reconnect")
}

func TestParseTTL(t *testing.T) {
	assert.Equal(t, 7200*time.Second, parseTTL(json.RawMessage(`"7200"`)))
	assert.Equal(t, 30*time.Second, parseTTL(json.RawMessage(`30`)))
	assert.Equal(t, defaultTokenTTL, parseTTL(json.RawMessage(`"soon"`)))
	assert.Equal(t, defaultTokenTTL, parseTTL(nil))
}

func TestTokenSource_ExpiryFollowsClock(t *testing.T) {
	f := newFakeQQ(t)
	now := time.Now()
	src := &appTokenSource{
		url:       f.srv.URL + tokenPath,
		appID:     "app",
		appSecret: "secret",
		client:    f.srv.Client(),
		now:       func() time.Time { return now.Add(-2 * time.Hour) },
	}
	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken)
	assert.False(t, tok.Valid(), "expiry is relative to the source clock")
}
