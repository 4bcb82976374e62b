package lsp

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/armchr/lspcomplete/internal/config"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func serveWebSocket(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		srv := &fakeServer{initResult: defaultInitResult()}
		srv.conn = jsonrpc2.NewConn(context.Background(), wsstream.NewObjectStream(ws), jsonrpc2.HandlerWithError(srv.handle))
		<-srv.conn.DisconnectNotify()
	}))
	t.Cleanup(server.Close)
	return server
}

func serveTCP(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			srv := &fakeServer{initResult: defaultInitResult()}
			srv.conn = jsonrpc2.NewConn(context.Background(), NewStdioStream(c), jsonrpc2.HandlerWithError(srv.handle))
		}
	}()
	return ln
}

func TestDial(t *testing.T) {
	wsServer := serveWebSocket(t)
	ln := serveTCP(t)

	tests := []struct {
		name string
		url  string
	}{
		{"websocket", "ws" + strings.TrimPrefix(wsServer.URL, "http") + "/python"},
		{"tcp", "tcp://" + ln.Addr().String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			stream, err := Dial(ctx, tt.url, zap.NewNop())
			require.NoError(t, err)

			c := NewConnection(testRootURI, WithLogger(zap.NewNop()))
			defer c.Close()
			require.NoError(t, c.Connect(stream))
			require.NoError(t, c.WaitReady(ctx))
			assert.True(t, c.HasCapability("completionProvider"))
		})
	}
}

func TestDial_Errors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "http://localhost:1", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")

	_, err = Dial(ctx, "://bad", zap.NewNop())
	require.Error(t, err)

	ln := serveTCP(t)
	addr := ln.Addr().String()
	ln.Close()
	_, err = Dial(ctx, "tcp://"+addr, zap.NewNop())
	require.Error(t, err)
}

func TestNewLanguageServerConnection(t *testing.T) {
	wsServer := serveWebSocket(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ls := config.LanguageServer{
		URL:              "ws" + strings.TrimPrefix(wsServer.URL, "http"),
		RootURI:          testRootURI,
		LanguageIDs:      []string{"python"},
		Settings:         map[string]interface{}{"pylsp": map[string]interface{}{}},
		ConnectTimeoutMs: 1000,
	}
	c, err := NewLanguageServerConnection(ctx, "pylsp", ls, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WaitReady(ctx))
	assert.Equal(t, "pylsp", c.Name())
	assert.Equal(t, testRootURI, c.RootURI())

	ls.URL = "tcp://127.0.0.1:1"
	_, err = NewLanguageServerConnection(ctx, "broken", ls, zap.NewNop())
	assert.Error(t, err)
}
