package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/armchr/lspcomplete/pkg/lsp"
	"github.com/armchr/lspcomplete/pkg/lsp/base"
)

type sessionEvent struct {
	Method  string
	URI     string
	Version int
	Text    string
}

// fakeSession mimics the document bookkeeping of a ready lsp.Connection.
type fakeSession struct {
	mu       sync.Mutex
	ready    bool
	opened   map[string]bool
	events   []sessionEvent
	settings interface{}

	options   map[string]interface{}
	items     []base.CompletionItem
	resolved  int
	positions []base.Position
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		ready:  true,
		opened: make(map[string]bool),
		options: map[string]interface{}{
			"triggerCharacters": []interface{}{"."},
			"resolveProvider":   true,
		},
	}
}

func (f *fakeSession) record(method string, doc *base.DocumentInfo) {
	f.events = append(f.events, sessionEvent{Method: method, URI: doc.URI, Version: doc.Version, Text: doc.Text})
}

func (f *fakeSession) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSession) SendOpen(ctx context.Context, doc *base.DocumentInfo) error {
	f.mu.Lock()
	if !f.ready {
		f.mu.Unlock()
		return nil
	}
	f.record("didOpen", doc)
	f.opened[doc.URI] = true
	f.mu.Unlock()
	return f.SendChange(ctx, doc)
}

func (f *fakeSession) SendChange(ctx context.Context, doc *base.DocumentInfo) error {
	f.mu.Lock()
	if !f.ready {
		f.mu.Unlock()
		return nil
	}
	if !f.opened[doc.URI] {
		f.mu.Unlock()
		return f.SendOpen(ctx, doc)
	}
	defer f.mu.Unlock()
	f.record("didChange", doc)
	doc.Version++
	return nil
}

func (f *fakeSession) SendSaved(_ context.Context, doc *base.DocumentInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ready {
		f.record("didSave", doc)
	}
	return nil
}

func (f *fakeSession) SendClose(_ context.Context, doc *base.DocumentInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready || !f.opened[doc.URI] {
		return nil
	}
	delete(f.opened, doc.URI)
	f.record("didClose", doc)
	return nil
}

func (f *fakeSession) SendConfigurationChange(_ context.Context, settings interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = settings
	return nil
}

func (f *fakeSession) HasCapability(provider string) bool {
	return provider == "completionProvider"
}

func (f *fakeSession) CapabilityOptions(provider string) map[string]interface{} {
	if provider != "completionProvider" {
		return nil
	}
	return f.options
}

func (f *fakeSession) Completion(_ context.Context, _ *base.DocumentInfo, pos base.Position, _ string) (*base.CompletionList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, pos)
	return &base.CompletionList{Items: f.items}, nil
}

func (f *fakeSession) ResolveCompletionItem(_ context.Context, item *base.CompletionItem) (*base.CompletionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved++
	out := *item
	out.Documentation = "resolved " + item.Label
	return &out, nil
}

func (f *fakeSession) Events() []sessionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sessionEvent(nil), f.events...)
}

func (f *fakeSession) Methods() []string {
	var out []string
	for _, e := range f.Events() {
		out = append(out, e.Method)
	}
	return out
}

func (f *fakeSession) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	servers []Server
}

func (r *fakeRegistry) add(name string, session Session, languageIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.servers {
		if s.Name == name {
			r.servers[i] = Server{Name: name, LanguageIDs: languageIDs, Session: session}
			return
		}
	}
	r.servers = append(r.servers, Server{Name: name, LanguageIDs: languageIDs, Session: session})
}

func (r *fakeRegistry) ForLanguage(languageID string) []Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Server
	for _, s := range r.servers {
		for _, id := range s.LanguageIDs {
			if id == languageID && s.Session.IsReady() {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func (r *fakeRegistry) Lookup(name string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.servers {
		if s.Name == name {
			return s.Session, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", lsp.ErrUnknownServer, name)
}

func (r *fakeRegistry) Status() []ServerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ServerStatus
	for _, s := range r.servers {
		out = append(out, ServerStatus{Name: s.Name, Ready: s.Session.IsReady(), LanguageIDs: s.LanguageIDs})
	}
	return out
}
