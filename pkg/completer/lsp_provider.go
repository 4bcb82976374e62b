package completer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/armchr/lspcomplete/pkg/lsp/base"

	"github.com/bluele/gcache"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"
)

// CompletionSource is the part of a language server session the LSP
// provider needs. *lsp.Connection implements it.
type CompletionSource interface {
	IsReady() bool
	HasCapability(provider string) bool
	CapabilityOptions(provider string) map[string]interface{}
	Completion(ctx context.Context, doc *base.DocumentInfo, pos base.Position, trigger string) (*base.CompletionList, error)
	ResolveCompletionItem(ctx context.Context, item *base.CompletionItem) (*base.CompletionItem, error)
}

const completionProvider = "completionProvider"

// LspProvider serves completions from a language server.
type LspProvider struct {
	name        string
	source      CompletionSource
	languageIDs []string
	resolved    gcache.Cache
	logger      *zap.Logger
}

// NewLspProvider wraps source. An empty languageIDs accepts every document.
func NewLspProvider(name string, source CompletionSource, languageIDs []string, cacheSize int, logger *zap.Logger) *LspProvider {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	return &LspProvider{
		name:        name,
		source:      source,
		languageIDs: languageIDs,
		resolved:    gcache.New(cacheSize).LRU().Build(),
		logger:      logger,
	}
}

func (p *LspProvider) Identifier() string {
	return "lsp:" + p.name
}

func (p *LspProvider) IsApplicable(_ context.Context, c *Context) (bool, error) {
	if c == nil || c.Document == nil {
		return false, nil
	}
	if !p.source.IsReady() || !p.source.HasCapability(completionProvider) {
		return false, nil
	}
	if len(p.languageIDs) == 0 {
		return true, nil
	}
	for _, id := range p.languageIDs {
		if id == c.Document.LanguageID {
			return true, nil
		}
	}
	return false, nil
}

func (p *LspProvider) Fetch(ctx context.Context, req Request, c *Context) (*Reply, error) {
	if c == nil || c.Document == nil {
		return nil, nil
	}

	fh := base.NewFileHolder(c.Document.URI, req.Text)
	offset := clampOffset(req.Text, req.Offset)
	pos := fh.OffsetToPosition(offset)

	list, err := p.source.Completion(ctx, c.Document, pos, p.triggerBefore(req.Text, offset))
	if err != nil {
		return nil, err
	}
	if list == nil || len(list.Items) == 0 {
		return nil, nil
	}

	// Items without a text edit covering the cursor replace the identifier
	// before it.
	tokenStart := base.TokenStart(req.Text, offset)
	starts := make([]int, len(list.Items))
	start := tokenStart
	for i, lspItem := range list.Items {
		starts[i] = tokenStart
		if lspItem.TextEdit != nil && lspItem.TextEdit.Range.Contains(pos) {
			starts[i] = fh.PositionToOffset(lspItem.TextEdit.Range.Start)
		}
		if starts[i] < start {
			start = starts[i]
		}
	}

	items := make([]Item, 0, len(list.Items))
	for i := range list.Items {
		lspItem := list.Items[i]
		item := p.toItem(&lspItem)
		if starts[i] > start {
			// Widen to the common start by re-inserting the buffer text.
			item.InsertText = base.RuneSlice(req.Text, start, starts[i]) + item.EffectiveText()
		}
		items = append(items, item)
	}

	p.logger.Debug("LSP completion reply",
		zap.String("provider", p.name),
		zap.String("uri", c.Document.URI),
		zap.Int("items", len(items)),
		zap.Bool("incomplete", list.IsIncomplete))

	return &Reply{Start: start, End: offset, Items: items}, nil
}

func (p *LspProvider) toItem(lspItem *base.CompletionItem) Item {
	item := Item{
		Label:         lspItem.Label,
		InsertText:    lspItem.InsertText,
		Type:          completionKindName(lspItem.Kind),
		Detail:        lspItem.Detail,
		Documentation: lspItem.Documentation,
		payload:       lspItem,
	}
	if lspItem.TextEdit != nil {
		item.InsertText = lspItem.TextEdit.NewText
	}
	if lspItem.SortText != "" || lspItem.FilterText != "" {
		item.Metadata = map[string]interface{}{}
		if lspItem.SortText != "" {
			item.Metadata["sortText"] = lspItem.SortText
		}
		if lspItem.FilterText != "" {
			item.Metadata["filterText"] = lspItem.FilterText
		}
	}
	return item
}

// Resolve fills in documentation and detail via completionItem/resolve when
// the server supports it. Results are cached per document and item identity.
func (p *LspProvider) Resolve(ctx context.Context, item Item, c *Context) (*Item, error) {
	lspItem, ok := item.payload.(*base.CompletionItem)
	if !ok || !p.supportsResolve() {
		return &item, nil
	}

	key := resolveKey(lspItem, c)
	if cached, err := p.resolved.Get(key); err == nil {
		return cached.(*Item), nil
	} else if !errors.Is(err, gcache.KeyNotFoundError) {
		p.logger.Warn("Resolve cache lookup failed", zap.Error(err))
	}

	resolvedLsp, err := p.source.ResolveCompletionItem(ctx, lspItem)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", item.Label, err)
	}

	resolved := item
	if resolvedLsp.Documentation != "" {
		resolved.Documentation = resolvedLsp.Documentation
	}
	if resolvedLsp.Detail != "" {
		resolved.Detail = resolvedLsp.Detail
	}
	resolved.Resolve = nil
	if err := p.resolved.Set(key, &resolved); err != nil {
		p.logger.Warn("Failed to cache resolved item", zap.String("label", item.Label), zap.Error(err))
	}
	return &resolved, nil
}

// resolveKey identifies an item well enough to tell overloads sharing a label
// apart. fmt prints maps with sorted keys, so the server's data field yields
// a stable string.
func resolveKey(item *base.CompletionItem, c *Context) string {
	uri := ""
	if c != nil && c.Document != nil {
		uri = c.Document.URI
	}
	key := fmt.Sprintf("%s\x00%s\x00%d\x00%s", uri, item.Label, item.Kind, item.Detail)
	if data, ok := item.Raw["data"]; ok {
		key += fmt.Sprintf("\x00%v", data)
	}
	return key
}

func (p *LspProvider) supportsResolve() bool {
	resolve, _ := p.source.CapabilityOptions(completionProvider)["resolveProvider"].(bool)
	return resolve
}

// ShouldShowContinuousHint hints while the completer is hidden and the edit
// ends in an identifier or one of the server's trigger characters.
func (p *LspProvider) ShouldShowContinuousHint(visible bool, change SourceChange, _ *Context) bool {
	if visible || change.Inserted == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(change.Inserted)
	if base.IsIdentifierRune(last) {
		return true
	}
	for _, trigger := range p.triggerCharacters() {
		if strings.HasSuffix(change.Inserted, trigger) {
			return true
		}
	}
	return false
}

func (p *LspProvider) triggerCharacters() []string {
	caps := base.ServerCapabilities{completionProvider: p.source.CapabilityOptions(completionProvider)}
	return caps.CompletionTriggerCharacters()
}

// triggerBefore returns the trigger character ending at offset, if any.
func (p *LspProvider) triggerBefore(text string, offset int) string {
	if offset == 0 {
		return ""
	}
	before := base.RuneSlice(text, 0, offset)
	for _, trigger := range p.triggerCharacters() {
		if trigger != "" && strings.HasSuffix(before, trigger) {
			return trigger
		}
	}
	return ""
}

func clampOffset(text string, offset int) int {
	if offset < 0 {
		return 0
	}
	if n := utf8.RuneCountInString(text); offset > n {
		return n
	}
	return offset
}

var completionKindNames = map[protocol.CompletionItemKind]string{
	protocol.CompletionItemKindText:          "text",
	protocol.CompletionItemKindMethod:        "method",
	protocol.CompletionItemKindFunction:      "function",
	protocol.CompletionItemKindConstructor:   "constructor",
	protocol.CompletionItemKindField:         "field",
	protocol.CompletionItemKindVariable:      "variable",
	protocol.CompletionItemKindClass:         "class",
	protocol.CompletionItemKindInterface:     "interface",
	protocol.CompletionItemKindModule:        "module",
	protocol.CompletionItemKindProperty:      "property",
	protocol.CompletionItemKindUnit:          "unit",
	protocol.CompletionItemKindValue:         "value",
	protocol.CompletionItemKindEnum:          "enum",
	protocol.CompletionItemKindKeyword:       "keyword",
	protocol.CompletionItemKindSnippet:       "snippet",
	protocol.CompletionItemKindColor:         "color",
	protocol.CompletionItemKindFile:          "file",
	protocol.CompletionItemKindReference:     "reference",
	protocol.CompletionItemKindFolder:        "folder",
	protocol.CompletionItemKindEnumMember:    "enum member",
	protocol.CompletionItemKindConstant:      "constant",
	protocol.CompletionItemKindStruct:        "struct",
	protocol.CompletionItemKindEvent:         "event",
	protocol.CompletionItemKindOperator:      "operator",
	protocol.CompletionItemKindTypeParameter: "type parameter",
}

func completionKindName(kind int) string {
	return completionKindNames[protocol.CompletionItemKind(kind)]
}
