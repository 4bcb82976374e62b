package lsp

import (
	"context"
	"fmt"
	"time"

	"github.com/armchr/lspcomplete/internal/config"
	"github.com/armchr/lspcomplete/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// dialRetryInterval is the first pause between dial attempts; later pauses
// grow exponentially.
const dialRetryInterval = 200 * time.Millisecond

// Dialer opens a connection to one configured language server.
type Dialer func(ctx context.Context, name string, ls config.LanguageServer, logger *zap.Logger) (*Connection, error)

type LspService struct {
	servers     config.LanguageServersConfig
	logger      *zap.Logger
	dial        Dialer
	connections *util.SafeMap[*Connection]
}

func NewLspService(servers config.LanguageServersConfig, logger *zap.Logger) *LspService {
	return NewLspServiceWithDialer(servers, logger, NewLanguageServerConnection)
}

func NewLspServiceWithDialer(servers config.LanguageServersConfig, logger *zap.Logger, dial Dialer) *LspService {
	return &LspService{
		servers:     servers,
		logger:      logger,
		dial:        dial,
		connections: util.NewSafeMap[*Connection](),
	}
}

// ConnectAll dials every configured server concurrently and waits for each
// handshake. Servers that fail are logged and left out; the error reports
// all of them.
func (s *LspService) ConnectAll(ctx context.Context) error {
	var (
		g      errgroup.Group
		result = make([]error, len(s.servers))
	)

	for i, name := range s.servers.Names() {
		i, name := i, name
		g.Go(func() error {
			result[i] = s.connect(ctx, name)
			return nil
		})
	}
	g.Wait()

	var merr *multierror.Error
	for _, err := range result {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

func (s *LspService) connect(ctx context.Context, name string) error {
	ls := s.servers[name]
	s.logger.Info("Connecting to language server", zap.String("name", name), zap.String("url", ls.URL))

	conn, err := backoff.RetryNotifyWithData(func() (*Connection, error) {
		return s.dial(ctx, name, ls, s.logger)
	}, dialBackOff(ctx, ls.DialRetries), func(err error, next time.Duration) {
		s.logger.Warn("Language server dial failed, retrying",
			zap.String("name", name), zap.Error(err), zap.Duration("retry_in", next))
	})
	if err != nil {
		s.logger.Error("Failed to connect to language server", zap.String("name", name), zap.Error(err))
		return err
	}

	timeout := ls.ConnectTimeout()
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultConnectTimeout) * time.Millisecond
	}
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.WaitReady(readyCtx); err != nil {
		s.logger.Error("Language server did not become ready", zap.String("name", name), zap.Error(err))
		conn.Close()
		return fmt.Errorf("language server %s: %w", name, err)
	}

	conn.OnDisconnect(func() {
		s.logger.Warn("Language server disconnected", zap.String("name", name))
	})
	if previous, ok := s.connections.Get(name); ok {
		previous.Close()
	}
	s.connections.Set(name, conn)
	return nil
}

func dialBackOff(ctx context.Context, retries int) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = dialRetryInterval
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(retries)), ctx)
}

// Reconnect replaces the connection for name with a fresh one.
func (s *LspService) Reconnect(ctx context.Context, name string) error {
	if _, ok := s.servers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return s.connect(ctx, name)
}

func (s *LspService) Get(name string) (*Connection, error) {
	conn, ok := s.connections.Get(name)
	if !ok {
		if _, configured := s.servers[name]; configured {
			return nil, fmt.Errorf("language server %s: %w", name, ErrNotConnected)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return conn, nil
}

// ForLanguage returns the ready connections serving languageID, ordered by
// server name.
func (s *LspService) ForLanguage(languageID string) []NamedConnection {
	var out []NamedConnection
	for _, name := range s.servers.ForLanguage(languageID) {
		if conn, ok := s.connections.Get(name); ok && conn.IsReady() {
			out = append(out, NamedConnection{Name: name, Conn: conn})
		}
	}
	return out
}

// NamedConnection pairs a connection with its configured name.
type NamedConnection struct {
	Name string
	Conn *Connection
}

// Connections returns every known connection, ready or not, ordered by name.
func (s *LspService) Connections() []NamedConnection {
	var out []NamedConnection
	for _, name := range s.connections.Keys() {
		if conn, ok := s.connections.Get(name); ok {
			out = append(out, NamedConnection{Name: name, Conn: conn})
		}
	}
	return out
}

// Close shuts every connection down.
func (s *LspService) Close(ctx context.Context) error {
	var merr *multierror.Error
	for _, nc := range s.Connections() {
		if err := nc.Conn.Shutdown(ctx); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", nc.Name, err))
		}
	}
	s.connections.Clear()
	return merr.ErrorOrNil()
}
