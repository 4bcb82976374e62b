package lsp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"
	"go.uber.org/zap"
)

// Dial opens the message stream a Connection runs on.
//
//   - ws:// and wss:// carry one JSON-RPC message per WebSocket frame, as
//     jupyter-lsp style proxies expect.
//   - tcp:// speaks the LSP base protocol (Content-Length framing).
func Dial(ctx context.Context, rawURL string, logger *zap.Logger) (jsonrpc2.ObjectStream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid language server url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "ws", "wss":
		logger.Debug("Dialing language server websocket", zap.String("url", rawURL))
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("failed to dial %s (status %d): %w", rawURL, resp.StatusCode, err)
			}
			return nil, fmt.Errorf("failed to dial %s: %w", rawURL, err)
		}
		return wsstream.NewObjectStream(conn), nil
	case "tcp":
		logger.Debug("Dialing language server socket", zap.String("address", u.Host))
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", u.Host, err)
		}
		return NewStdioStream(conn), nil
	default:
		return nil, fmt.Errorf("unsupported language server url scheme %q", u.Scheme)
	}
}

// NewStdioStream frames messages with LSP Content-Length headers over any
// byte stream (process pipes, sockets, net.Pipe in tests).
func NewStdioStream(rwc io.ReadWriteCloser) jsonrpc2.ObjectStream {
	return jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
}
