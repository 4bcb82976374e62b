package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/armchr/lspcomplete/internal/config"
	"github.com/armchr/lspcomplete/internal/util"
	"github.com/armchr/lspcomplete/pkg/completer"
	"github.com/armchr/lspcomplete/pkg/lsp/base"

	"go.uber.org/zap"
)

var ErrUnknownItem = errors.New("completion item not found")

type lspProviderEntry struct {
	session  Session
	provider *completer.LspProvider
}

type reconciliatorEntry struct {
	languageID    string
	providers     []completer.Provider
	reconciliator *completer.Reconciliator
	lastReply     atomic.Pointer[completer.Reply]
}

// CompletionService answers completion and hint queries for open documents.
// Each document keeps its reconciliator so a newer request supersedes an
// older one still in flight.
type CompletionService struct {
	documents       *DocumentService
	registry        Registry
	config          config.CompletionConfig
	contextProvider *completer.ContextProvider
	lspProviders    *util.SafeMap[*lspProviderEntry]
	reconciliators  *util.SafeMap[*reconciliatorEntry]
	logger          *zap.Logger
}

func NewCompletionService(documents *DocumentService, registry Registry, cfg config.CompletionConfig, logger *zap.Logger) *CompletionService {
	return &CompletionService{
		documents:       documents,
		registry:        registry,
		config:          cfg,
		contextProvider: completer.NewContextProvider(logger),
		lspProviders:    util.NewSafeMap[*lspProviderEntry](),
		reconciliators:  util.NewSafeMap[*reconciliatorEntry](),
		logger:          logger,
	}
}

// Complete returns the merged completion reply at offset, or nil when no
// provider had anything to offer in time. A non-nil text is applied to the
// document first.
func (cs *CompletionService) Complete(ctx context.Context, uri string, offset int, text *string) (*completer.Reply, error) {
	doc, ok := cs.documents.Get(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, uri)
	}
	if text != nil && *text != doc.Text {
		var err error
		if doc, err = cs.documents.Change(ctx, uri, "", *text); err != nil {
			cs.logger.Warn("Document sync before completion failed", zap.String("uri", uri), zap.Error(err))
		}
	}

	entry := cs.reconciliatorFor(doc)
	reply := entry.reconciliator.Fetch(ctx, completer.Request{Text: doc.Text, Offset: offset})
	if reply != nil {
		entry.lastReply.Store(reply)
	}

	cs.logger.Debug("Completion finished",
		zap.String("uri", uri),
		zap.Int("offset", offset),
		zap.Int("providers", len(entry.providers)),
		zap.Bool("answered", reply != nil))
	return reply, nil
}

// Resolve enriches an item of the document's most recent completion reply.
func (cs *CompletionService) Resolve(ctx context.Context, uri, provider, label string) (*completer.Item, error) {
	entry, ok := cs.reconciliators.Get(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, label)
	}
	reply := entry.lastReply.Load()
	if reply == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, label)
	}

	for _, item := range reply.Items {
		if item.Label != label || (provider != "" && item.Provider != provider) {
			continue
		}
		if item.Resolve == nil {
			resolved := item
			return &resolved, nil
		}
		return item.Resolve(ctx)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownItem, label)
}

// ShouldShowContinuousHint reports whether an edit should open the
// completer without an explicit request.
func (cs *CompletionService) ShouldShowContinuousHint(uri string, visible bool, change completer.SourceChange) (bool, error) {
	doc, ok := cs.documents.Get(uri)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownDocument, uri)
	}
	return cs.reconciliatorFor(doc).reconciliator.ShouldShowContinuousHint(visible, change), nil
}

// Forget drops the per-document state of uri.
func (cs *CompletionService) Forget(uri string) {
	cs.reconciliators.Delete(uri)
}

// Providers returns the provider identifiers used for languageID in order.
func (cs *CompletionService) Providers(languageID string) []string {
	providers := cs.providersFor(languageID)
	ids := make([]string, len(providers))
	for i, p := range providers {
		ids[i] = p.Identifier()
	}
	return ids
}

func (cs *CompletionService) reconciliatorFor(doc base.DocumentInfo) *reconciliatorEntry {
	providers := cs.providersFor(doc.LanguageID)
	if entry, ok := cs.reconciliators.Get(doc.URI); ok &&
		entry.languageID == doc.LanguageID && sameProviders(entry.providers, providers) {
		return entry
	}

	c := &completer.Context{Document: &base.DocumentInfo{URI: doc.URI, LanguageID: doc.LanguageID}}
	entry := &reconciliatorEntry{
		languageID:    doc.LanguageID,
		providers:     providers,
		reconciliator: completer.NewReconciliator(providers, c, cs.config.Timeout(), cs.logger),
	}
	cs.reconciliators.Set(doc.URI, entry)
	return entry
}

// providersFor orders the providers by the configured provider order. Servers
// not listed follow by name, then the context provider.
func (cs *CompletionService) providersFor(languageID string) []completer.Provider {
	byName := make(map[string]completer.Provider)
	var names []string
	for _, server := range cs.registry.ForLanguage(languageID) {
		byName[server.Name] = cs.lspProvider(server)
		names = append(names, server.Name)
	}
	if !cs.config.DisableContextProvider {
		byName[config.ContextProviderName] = cs.contextProvider
		names = append(names, config.ContextProviderName)
	}

	ordered := make([]completer.Provider, 0, len(byName))
	used := make(map[string]bool, len(byName))
	for _, name := range cs.config.ProviderOrder {
		if p, ok := byName[name]; ok && !used[name] {
			ordered = append(ordered, p)
			used[name] = true
		}
	}
	for _, name := range names {
		if !used[name] {
			ordered = append(ordered, byName[name])
			used[name] = true
		}
	}
	return ordered
}

func (cs *CompletionService) lspProvider(server Server) *completer.LspProvider {
	if entry, ok := cs.lspProviders.Get(server.Name); ok && entry.session == server.Session {
		return entry.provider
	}
	entry := &lspProviderEntry{
		session: server.Session,
		provider: completer.NewLspProvider(server.Name, server.Session, server.LanguageIDs,
			cs.config.ResolveCacheSize, cs.logger),
	}
	cs.lspProviders.Set(server.Name, entry)
	return entry.provider
}

func sameProviders(a, b []completer.Provider) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
