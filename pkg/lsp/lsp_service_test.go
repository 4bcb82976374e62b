package lsp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/armchr/lspcomplete/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testServers() config.LanguageServersConfig {
	return config.LanguageServersConfig{
		"pylsp": {URL: "ws://pylsp", RootURI: testRootURI, LanguageIDs: []string{"python"}},
		"jedi":  {URL: "ws://jedi", RootURI: testRootURI, LanguageIDs: []string{"python"}},
		"gopls": {URL: "tcp://gopls:1", RootURI: testRootURI, LanguageIDs: []string{"go"}},
		"r-lsp": {URL: "ws://r", RootURI: testRootURI, LanguageIDs: []string{"r"}},
	}
}

type pipeDialer struct {
	t       *testing.T
	failing map[string]bool

	mu      sync.Mutex
	servers map[string]*fakeServer
}

func (d *pipeDialer) dial(_ context.Context, name string, _ config.LanguageServer, _ *zap.Logger) (*Connection, error) {
	if d.failing[name] {
		return nil, errors.New("connection refused")
	}
	srv := &fakeServer{}
	conn := newTestServer(d.t, srv, WithName(name))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.servers == nil {
		d.servers = make(map[string]*fakeServer)
	}
	d.servers[name] = srv
	return conn, nil
}

func TestLspService_ConnectAll(t *testing.T) {
	dialer := &pipeDialer{t: t, failing: map[string]bool{"r-lsp": true}}
	svc := NewLspServiceWithDialer(testServers(), zap.NewNop(), dialer.dial)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := svc.ConnectAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	conns := svc.Connections()
	require.Len(t, conns, 3)
	assert.Equal(t, "gopls", conns[0].Name)
	assert.Equal(t, "jedi", conns[1].Name)
	assert.Equal(t, "pylsp", conns[2].Name)

	python := svc.ForLanguage("python")
	require.Len(t, python, 2)
	assert.Equal(t, "jedi", python[0].Name)
	assert.True(t, python[0].Conn.IsReady())
	assert.Empty(t, svc.ForLanguage("r"))
	assert.Empty(t, svc.ForLanguage("julia"))

	conn, err := svc.Get("gopls")
	require.NoError(t, err)
	assert.Equal(t, "gopls", conn.Name())

	_, err = svc.Get("r-lsp")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = svc.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownServer)

	require.NoError(t, svc.Close(ctx))
	assert.Empty(t, svc.Connections())
	assert.False(t, conn.IsConnected())
}

func TestLspService_Reconnect(t *testing.T) {
	dialer := &pipeDialer{t: t}
	svc := NewLspServiceWithDialer(testServers(), zap.NewNop(), dialer.dial)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, svc.ConnectAll(ctx))
	first, err := svc.Get("pylsp")
	require.NoError(t, err)

	require.NoError(t, svc.Reconnect(ctx, "pylsp"))
	second, err := svc.Get("pylsp")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, StateDisconnected, first.State())
	assert.True(t, second.IsReady())

	assert.ErrorIs(t, svc.Reconnect(ctx, "nope"), ErrUnknownServer)
}

func TestLspService_ForLanguageSkipsDisconnected(t *testing.T) {
	dialer := &pipeDialer{t: t}
	svc := NewLspServiceWithDialer(testServers(), zap.NewNop(), dialer.dial)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.ConnectAll(ctx))

	dialer.mu.Lock()
	srv := dialer.servers["jedi"]
	dialer.mu.Unlock()
	require.NoError(t, srv.conn.Close())

	require.Eventually(t, func() bool {
		return len(svc.ForLanguage("python")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "pylsp", svc.ForLanguage("python")[0].Name)
}

func TestLspService_DialRetries(t *testing.T) {
	servers := config.LanguageServersConfig{
		"pylsp": {URL: "ws://pylsp", RootURI: testRootURI, LanguageIDs: []string{"python"}, DialRetries: 2},
		"jedi":  {URL: "ws://jedi", RootURI: testRootURI, LanguageIDs: []string{"python"}},
	}
	dialer := &pipeDialer{t: t}
	var mu sync.Mutex
	attempts := make(map[string]int)
	flaky := func(ctx context.Context, name string, ls config.LanguageServer, logger *zap.Logger) (*Connection, error) {
		mu.Lock()
		attempts[name]++
		first := attempts[name] == 1
		mu.Unlock()
		if first {
			return nil, errors.New("connection refused")
		}
		return dialer.dial(ctx, name, ls, logger)
	}
	svc := NewLspServiceWithDialer(servers, zap.NewNop(), flaky)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := svc.ConnectAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	conn, err := svc.Get("pylsp")
	require.NoError(t, err)
	assert.True(t, conn.IsReady())

	_, err = svc.Get("jedi")
	assert.ErrorIs(t, err, ErrNotConnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts["pylsp"])
	assert.Equal(t, 1, attempts["jedi"])
}
