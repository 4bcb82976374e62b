package completer

import (
	"context"
	"strings"
	"unicode"
	"unsafe"

	"github.com/armchr/lspcomplete/pkg/lsp/base"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
	"go.uber.org/zap"
)

const ContextProviderID = "context"

// grammars maps a document language id to its tree-sitter grammar.
var grammars = map[string]func() unsafe.Pointer{
	"python":          tree_sitter_python.Language,
	"go":              tree_sitter_go.Language,
	"javascript":      tree_sitter_javascript.Language,
	"javascriptreact": tree_sitter_javascript.Language,
	"java":            tree_sitter_java.Language,
	"typescript":      tree_sitter_typescript.LanguageTypescript,
	"typescriptreact": tree_sitter_typescript.LanguageTSX,
}

// ContextProvider suggests identifiers that already occur in the document.
type ContextProvider struct {
	logger *zap.Logger
}

func NewContextProvider(logger *zap.Logger) *ContextProvider {
	return &ContextProvider{logger: logger}
}

func (p *ContextProvider) Identifier() string {
	return ContextProviderID
}

func (p *ContextProvider) IsApplicable(_ context.Context, c *Context) (bool, error) {
	return c != nil && c.Document != nil, nil
}

func (p *ContextProvider) Fetch(ctx context.Context, req Request, c *Context) (*Reply, error) {
	offset := clampOffset(req.Text, req.Offset)
	start := base.TokenStart(req.Text, offset)
	prefix := base.RuneSlice(req.Text, start, offset)
	if prefix == "" {
		return nil, nil
	}

	languageID := ""
	if c != nil && c.Document != nil {
		languageID = c.Document.LanguageID
	}

	var items []Item
	for _, token := range p.identifiers(languageID, req.Text) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if token == prefix || !strings.HasPrefix(token, prefix) {
			continue
		}
		items = append(items, Item{Label: token, Type: "text"})
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &Reply{Start: start, End: offset, Items: items}, nil
}

// identifiers returns the distinct identifiers of text in order of first
// appearance.
func (p *ContextProvider) identifiers(languageID, text string) []string {
	if grammar, ok := grammars[languageID]; ok {
		tokens, err := parseIdentifiers(grammar, text)
		if err == nil {
			return tokens
		}
		p.logger.Debug("Falling back to word scan", zap.String("language", languageID), zap.Error(err))
	}
	return scanWords(text)
}

func parseIdentifiers(grammar func() unsafe.Pointer, text string) ([]string, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(tree_sitter.NewLanguage(grammar())); err != nil {
		return nil, err
	}

	source := []byte(text)
	tree := parser.Parse(source, nil)
	defer tree.Close()

	collector := &identifierCollector{source: source, seen: make(map[string]struct{})}
	collector.traverse(tree.RootNode())
	return collector.tokens, nil
}

type identifierCollector struct {
	source []byte
	seen   map[string]struct{}
	tokens []string
}

func (ic *identifierCollector) traverse(node *tree_sitter.Node) {
	if node == nil {
		return
	}
	if node.ChildCount() == 0 {
		if strings.HasSuffix(node.Kind(), "identifier") {
			ic.add(string(ic.source[node.StartByte():node.EndByte()]))
		}
		return
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		ic.traverse(node.Child(i))
	}
}

func (ic *identifierCollector) add(token string) {
	if token == "" {
		return
	}
	if _, ok := ic.seen[token]; ok {
		return
	}
	ic.seen[token] = struct{}{}
	ic.tokens = append(ic.tokens, token)
}

func scanWords(text string) []string {
	collector := &identifierCollector{seen: make(map[string]struct{})}
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !base.IsIdentifierRune(r)
	})
	for _, word := range words {
		first := []rune(word)[0]
		if unicode.IsDigit(first) {
			continue
		}
		collector.add(word)
	}
	return collector.tokens
}
