package lsp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/armchr/lspcomplete/internal/util"
	"github.com/armchr/lspcomplete/pkg/lsp/base"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/jsonrpc2"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"
)

// ConnectionState is the lifecycle position of a Connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	StateInitializing
	StateReady
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

const clientName = "lspcomplete"

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithName labels the connection in logs and in the service registry.
func WithName(name string) ConnectionOption {
	return func(c *Connection) {
		c.name = name
	}
}

// WithTraceRPC logs every JSON-RPC message at debug level.
func WithTraceRPC(enable bool) ConnectionOption {
	return func(c *Connection) {
		c.traceRPC = enable
	}
}

// WithInitializationOptions sets initializationOptions sent with initialize.
func WithInitializationOptions(opts interface{}) ConnectionOption {
	return func(c *Connection) {
		c.initOptions = opts
	}
}

// WithSettings seeds the settings served to workspace/configuration requests.
func WithSettings(settings interface{}) ConnectionOption {
	return func(c *Connection) {
		c.settings = settings
	}
}

// Connection is a client session with one language server over a single
// JSON-RPC stream. It is not reusable: once closed or disconnected a new
// Connection must be created.
type Connection struct {
	id          string
	name        string
	rootURI     string
	traceRPC    bool
	initOptions interface{}
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	mu           sync.Mutex
	conn         *jsonrpc2.Conn
	closed       bool
	initErr      error
	serverInfo   *base.ServerInfo
	onDisconnect []func()
	onReady      []func()

	// capabilities is replaced wholesale; capMu serializes writers only.
	capMu        sync.Mutex
	capabilities atomic.Pointer[base.ServerCapabilities]

	opened *util.SafeMap[bool]

	settingsMu sync.RWMutex
	settings   interface{}

	initDone       chan struct{}
	initOnce       sync.Once
	disconnectOnce sync.Once
}

// NewConnection creates a disconnected session rooted at rootURI.
func NewConnection(rootURI string, opts ...ConnectionOption) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       uuid.NewString(),
		rootURI:  rootURI,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
		opened:   util.NewSafeMap[bool](),
		initDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.name == "" {
		c.name = c.id
	}
	c.logger = c.logger.With(zap.String("connection", c.name), zap.String("root_uri", rootURI))

	empty := base.ServerCapabilities{}
	c.capabilities.Store(&empty)
	c.state.Store(int32(StateDisconnected))
	return c
}

func (c *Connection) ID() string      { return c.id }
func (c *Connection) Name() string    { return c.name }
func (c *Connection) RootURI() string { return c.rootURI }

func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// IsConnected reports whether the transport is up. A dropped transport is
// observed here before the disconnect callbacks run.
func (c *Connection) IsConnected() bool {
	if c.State() == StateDisconnected {
		return false
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}
	select {
	case <-conn.DisconnectNotify():
		return false
	default:
		return true
	}
}

// IsReady reports whether the initialize handshake completed on a live transport.
func (c *Connection) IsReady() bool {
	return c.State() == StateReady && c.IsConnected()
}

// InitializeError returns the error that kept the connection from becoming
// ready, or nil.
func (c *Connection) InitializeError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initErr
}

func (c *Connection) ServerInfo() *base.ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Capabilities returns a copy of the current server capabilities.
func (c *Connection) Capabilities() base.ServerCapabilities {
	return c.capabilities.Load().Clone()
}

func (c *Connection) HasCapability(provider string) bool {
	return c.capabilities.Load().Has(provider)
}

// CapabilityOptions returns the options object registered for provider.
// The result is shared and must not be modified.
func (c *Connection) CapabilityOptions(provider string) map[string]interface{} {
	return c.capabilities.Load().Options(provider)
}

func (c *Connection) IsOpened(uri string) bool {
	opened, _ := c.opened.Get(uri)
	return opened
}

// OnDisconnect registers fn to run once the transport goes away. It runs
// immediately when the connection is already gone.
func (c *Connection) OnDisconnect(fn func()) {
	c.mu.Lock()
	if c.closed || (c.conn != nil && c.State() == StateDisconnected) {
		c.mu.Unlock()
		fn()
		return
	}
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

// OnReady registers fn to run once the handshake completes. It runs
// immediately when the connection is already ready.
func (c *Connection) OnReady(fn func()) {
	c.mu.Lock()
	if c.State() == StateReady {
		c.mu.Unlock()
		fn()
		return
	}
	c.onReady = append(c.onReady, fn)
	c.mu.Unlock()
}

// Connect attaches the connection to stream and starts the initialize
// handshake in the background. Use WaitReady to block until it completes.
func (c *Connection) Connect(stream jsonrpc2.ObjectStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	rpcLogger := zap.NewStdLog(c.logger.Named("jsonrpc2"))
	connOpts := []jsonrpc2.ConnOpt{jsonrpc2.SetLogger(rpcLogger)}
	if c.traceRPC {
		connOpts = append(connOpts, jsonrpc2.LogMessages(rpcLogger))
	}

	conn := jsonrpc2.NewConn(c.ctx, stream, jsonrpc2.HandlerWithError(c.handle).SuppressErrClosed(), connOpts...)
	c.conn = conn
	c.state.Store(int32(StateConnected))
	c.logger.Info("Connected to language server", zap.String("id", c.id))

	go c.watchDisconnect(conn)
	go c.initialize(conn)
	return nil
}

// WaitReady blocks until the handshake finished. It returns the handshake
// error when the connection will never become ready.
func (c *Connection) WaitReady(ctx context.Context) error {
	select {
	case <-c.initDone:
		return c.InitializeError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) initializeParams() *base.InitializeParams {
	params := &base.InitializeParams{
		ProcessID:             util.Ptr(os.Getpid()),
		RootURI:               util.Ptr(c.rootURI),
		InitializationOptions: c.initOptions,
		ClientInfo:            &base.ClientInfo{Name: clientName},
		Capabilities: base.ClientCapabilities{
			TextDocument: base.TextDocumentClientCapabilities{
				Synchronization: base.SynchronizationClientCapabilities{
					DynamicRegistration: true,
					DidSave:             true,
				},
				Completion: base.CompletionClientCapabilities{
					DynamicRegistration: true,
					ContextSupport:      true,
					CompletionItem: base.CompletionItemClientCapabilities{
						SnippetSupport:       false,
						DocumentationFormat:  []string{"markdown", "plaintext"},
						DeprecatedSupport:    true,
						InsertReplaceSupport: true,
						ResolveSupport: &base.ResolveSupportList{
							Properties: []string{"documentation", "detail"},
						},
					},
				},
				Hover: base.HoverClientCapabilities{
					DynamicRegistration: true,
					ContentFormat:       []string{"markdown", "plaintext"},
				},
			},
			Workspace: base.WorkspaceClientCapabilities{
				DidChangeConfiguration: base.DidChangeConfigurationClientCapabilities{
					DynamicRegistration: true,
				},
				Configuration: true,
			},
		},
	}
	if c.rootURI != "" {
		params.WorkspaceFolders = []base.WorkspaceFolder{{URI: c.rootURI, Name: c.name}}
	}
	return params
}

func (c *Connection) initialize(conn *jsonrpc2.Conn) {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateInitializing)) {
		return
	}

	c.logger.Debug("Sending initialize request to language server")
	var raw map[string]interface{}
	if err := conn.Call(c.ctx, base.MethodInitialize, c.initializeParams(), &raw); err != nil {
		c.logger.Warn("Language server initialization failed", zap.Error(err))
		c.finishInit(fmt.Errorf("initialize: %w", err))
		return
	}

	caps := base.ServerCapabilities{}
	result, err := base.MapToInitializeResult(raw)
	if err != nil {
		c.logger.Warn("Initialize result has no usable capabilities", zap.Error(err))
	} else {
		caps = result.Capabilities
		c.mu.Lock()
		c.serverInfo = result.ServerInfo
		c.mu.Unlock()
	}
	c.capMu.Lock()
	c.capabilities.Store(&caps)
	c.capMu.Unlock()

	if err := conn.Notify(c.ctx, base.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		c.logger.Warn("Failed to send initialized notification", zap.Error(err))
		c.finishInit(fmt.Errorf("initialized: %w", err))
		return
	}

	if !c.state.CompareAndSwap(int32(StateInitializing), int32(StateReady)) {
		c.finishInit(ErrNotConnected)
		return
	}
	c.logger.Info("Language server ready", zap.Int("capabilities", len(caps)))

	empty := &protocol.DidChangeConfigurationParams{Settings: map[string]interface{}{}}
	if err := conn.Notify(c.ctx, base.MethodWorkspaceDidChangeConfig, empty); err != nil {
		c.logger.Warn("Failed to send initial configuration", zap.Error(err))
	}
	if settings := c.currentSettings(); settings != nil {
		if err := c.SendConfigurationChange(c.ctx, settings); err != nil {
			c.logger.Warn("Failed to send configured settings", zap.Error(err))
		}
	}

	c.finishInit(nil)

	c.mu.Lock()
	callbacks := c.onReady
	c.onReady = nil
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (c *Connection) finishInit(err error) {
	c.initOnce.Do(func() {
		c.mu.Lock()
		c.initErr = err
		c.mu.Unlock()
		close(c.initDone)
	})
}

func (c *Connection) watchDisconnect(conn *jsonrpc2.Conn) {
	<-conn.DisconnectNotify()

	c.state.Store(int32(StateDisconnected))
	c.opened.Clear()
	c.finishInit(ErrNotConnected)
	c.logger.Info("Language server connection closed")

	c.disconnectOnce.Do(func() {
		c.mu.Lock()
		callbacks := c.onDisconnect
		c.onDisconnect = nil
		c.mu.Unlock()
		for _, fn := range callbacks {
			fn()
		}
	})
}

// readyConn returns the transport when the connection is ready, nil otherwise.
func (c *Connection) readyConn() *jsonrpc2.Conn {
	if !c.IsReady() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// SendOpen announces doc to the server and follows it with a full-text change.
// It is a no-op while the connection is not ready.
func (c *Connection) SendOpen(ctx context.Context, doc *base.DocumentInfo) error {
	conn := c.readyConn()
	if conn == nil {
		return nil
	}

	params := &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        doc.URI,
			LanguageID: doc.LanguageID,
			Version:    protocol.Integer(doc.Version),
			Text:       doc.Text,
		},
	}
	if err := conn.Notify(ctx, base.MethodTextDocumentDidOpen, params); err != nil {
		return fmt.Errorf("failed to send didOpen for %s: %w", doc.URI, err)
	}
	c.opened.Set(doc.URI, true)
	c.logger.Debug("Opened document", zap.String("uri", doc.URI), zap.Int("version", doc.Version))

	return c.SendChange(ctx, doc)
}

// SendChange sends the full text of doc and increments doc.Version. A
// document the server has not seen yet is opened instead. It is a no-op while
// the connection is not ready.
func (c *Connection) SendChange(ctx context.Context, doc *base.DocumentInfo) error {
	conn := c.readyConn()
	if conn == nil {
		return nil
	}
	if !c.IsOpened(doc.URI) {
		return c.SendOpen(ctx, doc)
	}

	params := &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: doc.URI},
			Version:                protocol.Integer(doc.Version),
		},
		ContentChanges: []any{
			protocol.TextDocumentContentChangeEventWhole{Text: doc.Text},
		},
	}
	if err := conn.Notify(ctx, base.MethodTextDocumentDidChange, params); err != nil {
		return fmt.Errorf("failed to send didChange for %s: %w", doc.URI, err)
	}
	doc.Version++
	return nil
}

// SendSaved notifies the server that doc was saved, including its text.
func (c *Connection) SendSaved(ctx context.Context, doc *base.DocumentInfo) error {
	conn := c.readyConn()
	if conn == nil {
		return nil
	}

	text := doc.Text
	params := &protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: doc.URI},
		Text:         &text,
	}
	if err := conn.Notify(ctx, base.MethodTextDocumentDidSave, params); err != nil {
		return fmt.Errorf("failed to send didSave for %s: %w", doc.URI, err)
	}
	return nil
}

// SendClose tells the server doc is no longer open. Documents the server
// never saw are ignored.
func (c *Connection) SendClose(ctx context.Context, doc *base.DocumentInfo) error {
	conn := c.readyConn()
	if conn == nil || !c.IsOpened(doc.URI) {
		return nil
	}

	params := &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: doc.URI},
	}
	c.opened.Delete(doc.URI)
	if err := conn.Notify(ctx, base.MethodTextDocumentDidClose, params); err != nil {
		return fmt.Errorf("failed to send didClose for %s: %w", doc.URI, err)
	}
	return nil
}

// SendConfigurationChange forwards settings verbatim and keeps them for later
// workspace/configuration requests.
func (c *Connection) SendConfigurationChange(ctx context.Context, settings interface{}) error {
	conn := c.readyConn()
	if conn == nil {
		return nil
	}

	c.settingsMu.Lock()
	c.settings = settings
	c.settingsMu.Unlock()

	params := &protocol.DidChangeConfigurationParams{Settings: settings}
	if err := conn.Notify(ctx, base.MethodWorkspaceDidChangeConfig, params); err != nil {
		return fmt.Errorf("failed to send configuration change: %w", err)
	}
	return nil
}

func (c *Connection) currentSettings() interface{} {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.settings
}

// Completion requests completions at pos. trigger is the character that
// triggered the request, empty for explicit invocation.
func (c *Connection) Completion(ctx context.Context, doc *base.DocumentInfo, pos base.Position, trigger string) (*base.CompletionList, error) {
	conn := c.readyConn()
	if conn == nil {
		return nil, ErrNotReady
	}
	if !c.HasCapability("completionProvider") {
		return nil, ErrNotSupported
	}

	params := &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: doc.URI},
			Position: protocol.Position{
				Line:      protocol.UInteger(pos.Line),
				Character: protocol.UInteger(pos.Character),
			},
		},
		Context: &protocol.CompletionContext{TriggerKind: protocol.CompletionTriggerKindInvoked},
	}
	if trigger != "" {
		params.Context.TriggerKind = protocol.CompletionTriggerKindTriggerCharacter
		params.Context.TriggerCharacter = &trigger
	}

	var raw interface{}
	if err := conn.Call(ctx, base.MethodTextDocumentCompletion, params, &raw); err != nil {
		return nil, fmt.Errorf("completion request for %s failed: %w", doc.URI, err)
	}
	list, err := base.MapToCompletionList(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode completion result: %w", err)
	}
	return list, nil
}

// ResolveCompletionItem asks the server to fill in the lazy fields of item.
func (c *Connection) ResolveCompletionItem(ctx context.Context, item *base.CompletionItem) (*base.CompletionItem, error) {
	conn := c.readyConn()
	if conn == nil {
		return nil, ErrNotReady
	}

	var raw map[string]interface{}
	if err := conn.Call(ctx, base.MethodCompletionItemResolve, item.Raw, &raw); err != nil {
		return nil, fmt.Errorf("completion resolve for %q failed: %w", item.Label, err)
	}
	if raw == nil {
		return item, nil
	}
	return base.MapToCompletionItem(raw)
}

// Shutdown performs the polite shutdown/exit sequence and then closes.
func (c *Connection) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if conn := c.readyConn(); conn != nil {
		if err := conn.Call(ctx, base.MethodShutdown, nil, nil); err != nil {
			result = multierror.Append(result, fmt.Errorf("shutdown: %w", err))
		} else if err := conn.Notify(ctx, base.MethodExit, nil); err != nil {
			result = multierror.Append(result, fmt.Errorf("exit: %w", err))
		}
	}
	if err := c.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Close tears the session down. Calling it more than once is safe.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	c.opened.Clear()
	c.cancel()
	c.finishInit(ErrClosed)

	if conn == nil {
		return nil
	}
	c.logger.Info("Closing language server connection")
	if err := conn.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		return fmt.Errorf("failed to close connection %s: %w", c.name, err)
	}
	return nil
}

var _ base.DocumentSync = (*Connection)(nil)
