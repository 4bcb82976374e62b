package lsp

import (
	"context"
	"fmt"

	"github.com/armchr/lspcomplete/internal/config"

	"go.uber.org/zap"
)

// NewLanguageServerConnection dials the configured server and starts the
// handshake. The returned connection may still be initializing.
func NewLanguageServerConnection(ctx context.Context, name string, ls config.LanguageServer, logger *zap.Logger) (*Connection, error) {
	opts := []ConnectionOption{
		WithName(name),
		WithLogger(logger),
		WithTraceRPC(ls.TraceRPC),
	}
	if ls.Settings != nil {
		opts = append(opts, WithSettings(ls.Settings))
	}
	if ls.InitializationOptions != nil {
		opts = append(opts, WithInitializationOptions(ls.InitializationOptions))
	}

	if ls.ConnectTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ls.ConnectTimeout())
		defer cancel()
	}

	stream, err := Dial(ctx, ls.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to reach language server %s: %w", name, err)
	}

	conn := NewConnection(ls.RootURI, opts...)
	if err := conn.Connect(stream); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start language server session %s: %w", name, err)
	}
	return conn, nil
}
