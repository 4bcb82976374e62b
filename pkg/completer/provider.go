package completer

import (
	"context"

	"github.com/armchr/lspcomplete/pkg/lsp/base"
)

// Request is the buffer state a completion is computed for. Offset is in
// runes.
type Request struct {
	Text   string `json:"text"`
	Offset int    `json:"offset"`
}

// Item is one completion candidate.
type Item struct {
	Label string `json:"label"`
	// InsertText defaults to Label when empty.
	InsertText    string                 `json:"insertText,omitempty"`
	Type          string                 `json:"type,omitempty"`
	Detail        string                 `json:"detail,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
	Provider      string                 `json:"provider,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	// Resolve fetches lazily computed fields. Nil when the owning provider
	// cannot resolve items.
	Resolve func(ctx context.Context) (*Item, error) `json:"-"`

	// payload is provider-private state carried for resolution.
	payload interface{}
}

// EffectiveText is the text inserted when the item is accepted.
func (i Item) EffectiveText() string {
	if i.InsertText != "" {
		return i.InsertText
	}
	return i.Label
}

// Reply is a provider's answer. Start and End delimit the replaced span as
// rune offsets into the request text.
type Reply struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Items []Item `json:"items"`
}

// Context describes where completion was requested.
type Context struct {
	Document *base.DocumentInfo
}

// SourceChange describes an edit that may trigger continuous hinting.
type SourceChange struct {
	Inserted string `json:"inserted"`
	Removed  string `json:"removed,omitempty"`
}

// Provider is a completion source.
type Provider interface {
	// Identifier names the provider in logs and item metadata.
	Identifier() string

	// Fetch returns nil, nil when there is nothing to offer. Errors are
	// reserved for backend failures.
	Fetch(ctx context.Context, req Request, c *Context) (*Reply, error)

	IsApplicable(ctx context.Context, c *Context) (bool, error)
}

// ContinuousHinter is implemented by providers with an opinion on whether an
// edit should open the completer unprompted.
type ContinuousHinter interface {
	ShouldShowContinuousHint(visible bool, change SourceChange, c *Context) bool
}

// Resolver is implemented by providers that can enrich items lazily.
type Resolver interface {
	Resolve(ctx context.Context, item Item, c *Context) (*Item, error)
}

// DefaultShouldShowContinuousHint hints when the completer is hidden and the
// edit inserted text.
func DefaultShouldShowContinuousHint(visible bool, change SourceChange) bool {
	return !visible && change.Inserted != ""
}
