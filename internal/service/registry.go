package service

import (
	"github.com/armchr/lspcomplete/internal/config"
	"github.com/armchr/lspcomplete/pkg/completer"
	"github.com/armchr/lspcomplete/pkg/lsp"
	"github.com/armchr/lspcomplete/pkg/lsp/base"
)

// Session is a language server session as the services use it.
type Session interface {
	base.DocumentSync
	completer.CompletionSource
}

// Server is a ready session together with its configuration.
type Server struct {
	Name        string
	LanguageIDs []string
	Session     Session
}

// ServerStatus describes a configured server for status reporting.
type ServerStatus struct {
	Name         string                  `json:"name"`
	State        string                  `json:"state"`
	Ready        bool                    `json:"ready"`
	RootURI      string                  `json:"root_uri"`
	LanguageIDs  []string                `json:"language_ids"`
	ServerInfo   *base.ServerInfo        `json:"server_info,omitempty"`
	Capabilities base.ServerCapabilities `json:"capabilities,omitempty"`
	InitError    string                  `json:"init_error,omitempty"`
}

// Registry resolves language servers by document language or by name.
type Registry interface {
	// ForLanguage returns the ready servers for languageID ordered by name.
	ForLanguage(languageID string) []Server
	Lookup(name string) (Session, error)
	Status() []ServerStatus
}

type lspRegistry struct {
	lspService *lsp.LspService
	servers    config.LanguageServersConfig
}

// NewLspRegistry exposes the connections of lspService as a Registry.
func NewLspRegistry(lspService *lsp.LspService, servers config.LanguageServersConfig) Registry {
	return &lspRegistry{lspService: lspService, servers: servers}
}

func (r *lspRegistry) ForLanguage(languageID string) []Server {
	named := r.lspService.ForLanguage(languageID)
	out := make([]Server, 0, len(named))
	for _, nc := range named {
		out = append(out, Server{
			Name:        nc.Name,
			LanguageIDs: r.servers[nc.Name].LanguageIDs,
			Session:     nc.Conn,
		})
	}
	return out
}

func (r *lspRegistry) Lookup(name string) (Session, error) {
	conn, err := r.lspService.Get(name)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (r *lspRegistry) Status() []ServerStatus {
	connections := make(map[string]*lsp.Connection)
	for _, nc := range r.lspService.Connections() {
		connections[nc.Name] = nc.Conn
	}

	out := make([]ServerStatus, 0, len(r.servers))
	for _, name := range r.servers.Names() {
		status := ServerStatus{
			Name:        name,
			State:       lsp.StateDisconnected.String(),
			RootURI:     r.servers[name].RootURI,
			LanguageIDs: r.servers[name].LanguageIDs,
		}
		if conn, ok := connections[name]; ok {
			status.State = conn.State().String()
			status.Ready = conn.IsReady()
			status.ServerInfo = conn.ServerInfo()
			status.Capabilities = conn.Capabilities()
			if err := conn.InitializeError(); err != nil {
				status.InitError = err.Error()
			}
		}
		out = append(out, status)
	}
	return out
}
