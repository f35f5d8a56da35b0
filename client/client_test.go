package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubrpc/config"
	"hubrpc/discovery"
	"hubrpc/engine"
	"hubrpc/message"
	"hubrpc/rpcerr"
	"hubrpc/transport"
)

// hub starts a websocket endpoint served by an engine Connection with the
// given handlers, and returns its host:port.
func hub(t *testing.T, handlers map[string]func(context.Context, *message.Call) (any, error)) string {
	t.Helper()
	upgrader := &websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := transport.Upgrade(upgrader, w, r)
		if err != nil {
			return
		}
		conn, err := engine.New(ws, engine.Options{})
		if err != nil {
			return
		}
		for name, h := range handlers {
			_, _ = conn.Register(name, h)
		}
		if err := conn.Accept(context.Background()); err != nil {
			return
		}
		_ = conn.Wait()
	}))
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}

func insecureConfig(hubName string) *config.Config {
	insecure := false
	cfg := &config.Config{Hub: hubName, Secure: &insecure}
	config.ApplyDefaults(cfg)
	return cfg
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}

func echo(ctx context.Context, call *message.Call) (any, error) {
	var s string
	if err := call.Argument(0, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func TestDialEndpoint(t *testing.T) {
	addr := hub(t, map[string]func(context.Context, *message.Call) (any, error){"Echo": echo})
	cfg := insecureConfig("echo")
	cfg.Endpoint = "ws://" + addr + "/echo"

	conn, err := Dial(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer conn.Close()

	var reply string
	require.NoError(t, conn.Call(context.Background(), "Echo", &reply, "ping"))
	assert.Equal(t, "ping", reply)
	assert.Equal(t, engine.RoleClient, conn.Role())
}

func TestDialDomain(t *testing.T) {
	addr := hub(t, map[string]func(context.Context, *message.Call) (any, error){"Echo": echo})
	host, port, ok := strings.Cut(addr, ":")
	require.True(t, ok)

	cfg := insecureConfig("echo")
	cfg.Domain = host
	cfg.Port = mustAtoi(t, port)
	cfg.AccessToken = "secret"

	c := NewClient(cfg, nil)
	urls, err := c.Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ws://" + addr + "/echo?access_token=secret"}, urls)

	conn, err := c.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, engine.Ready, conn.State())
}

func TestDialThroughDiscoverySkipsDeadInstances(t *testing.T) {
	live := hub(t, map[string]func(context.Context, *message.Call) (any, error){"Echo": echo})
	reg := discovery.NewMemoryRegistry()
	ctx := context.Background()
	// "0.0.0.0:1" sorts before any 127.x address and refuses connections.
	require.NoError(t, reg.Register(ctx, "echo", discovery.Instance{Addr: "0.0.0.0:1"}, 10))
	require.NoError(t, reg.Register(ctx, "echo", discovery.Instance{Addr: live}, 10))

	c := NewClient(insecureConfig("echo"), reg)
	urls, err := c.Endpoints(ctx)
	require.NoError(t, err)
	require.Len(t, urls, 2)

	conn, err := c.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var reply string
	require.NoError(t, conn.Call(ctx, "Echo", &reply, "via discovery"))
	assert.Equal(t, "via discovery", reply)
}

func TestDialNoInstances(t *testing.T) {
	c := NewClient(insecureConfig("empty"), discovery.NewMemoryRegistry())
	_, err := c.Dial(context.Background())
	assert.ErrorIs(t, err, discovery.ErrNoInstances)

	_, err = NewClient(insecureConfig("empty"), nil).Dial(context.Background())
	assert.Error(t, err)
}

func TestClientHandlersServeReverseCalls(t *testing.T) {
	asked := make(chan string, 1)
	addr := hub(t, map[string]func(context.Context, *message.Call) (any, error){
		"Ask": func(ctx context.Context, call *message.Call) (any, error) {
			conn, _ := engine.FromContext(ctx)
			var answer string
			if err := conn.Call(ctx, "Answer", &answer, "question"); err != nil {
				return nil, err
			}
			asked <- answer
			return answer, nil
		},
	})

	cfg := insecureConfig("ask")
	cfg.Endpoint = "ws://" + addr + "/ask"
	c := NewClient(cfg, nil)
	c.Handle("Answer", func(ctx context.Context, call *message.Call) (any, error) {
		var q string
		_ = call.Argument(0, &q)
		return "answer to " + q, nil
	})
	conn, err := c.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	var reply string
	require.NoError(t, conn.Call(context.Background(), "Ask", &reply))
	assert.Equal(t, "answer to question", reply)
	assert.Equal(t, "answer to question", <-asked)
}

func TestDialHandshakeRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, _, _ = ws.ReadMessage()
		_ = ws.WriteMessage(websocket.TextMessage, []byte("{\"error\":\"bad version\"}\x1e"))
		_, _, _ = ws.ReadMessage()
	}))
	defer ts.Close()

	cfg := insecureConfig("x")
	cfg.Endpoint = "ws" + strings.TrimPrefix(ts.URL, "http") + "/x"
	_, err := Dial(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, rpcerr.ErrHandshakeFailed)
}
