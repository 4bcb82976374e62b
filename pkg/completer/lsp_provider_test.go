package completer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/armchr/lspcomplete/pkg/lsp/base"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu sync.Mutex

	ready   bool
	options map[string]interface{}
	list    *base.CompletionList
	err     error

	positions    []base.Position
	triggers     []string
	resolveCalls int
	resolve      func(item *base.CompletionItem) *base.CompletionItem
}

func (f *fakeSource) IsReady() bool { return f.ready }

func (f *fakeSource) HasCapability(provider string) bool {
	return provider == completionProvider && f.options != nil
}

func (f *fakeSource) CapabilityOptions(provider string) map[string]interface{} {
	if provider != completionProvider {
		return nil
	}
	return f.options
}

func (f *fakeSource) Completion(_ context.Context, _ *base.DocumentInfo, pos base.Position, trigger string) (*base.CompletionList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, pos)
	f.triggers = append(f.triggers, trigger)
	return f.list, f.err
}

func (f *fakeSource) ResolveCompletionItem(_ context.Context, item *base.CompletionItem) (*base.CompletionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	if f.resolve != nil {
		return f.resolve(item), nil
	}
	resolved := *item
	resolved.Documentation = "Create an array."
	resolved.Detail = "numpy.array(object)"
	return &resolved, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		ready: true,
		options: map[string]interface{}{
			"triggerCharacters": []interface{}{"."},
			"resolveProvider":   true,
		},
	}
}

const numpySource = "import numpy as np\nnp.ar"

func pythonContext() *Context {
	return &Context{Document: &base.DocumentInfo{URI: "file:///nb/cell.py", LanguageID: "python", Text: numpySource}}
}

func TestLspProvider_IsApplicable(t *testing.T) {
	tests := []struct {
		name        string
		source      *fakeSource
		languageIDs []string
		c           *Context
		expected    bool
	}{
		{"ready and matching", newFakeSource(), []string{"python"}, pythonContext(), true},
		{"any language", newFakeSource(), nil, pythonContext(), true},
		{"language mismatch", newFakeSource(), []string{"go"}, pythonContext(), false},
		{"not ready", &fakeSource{options: map[string]interface{}{}}, nil, pythonContext(), false},
		{"no completion capability", &fakeSource{ready: true}, nil, pythonContext(), false},
		{"no document", newFakeSource(), nil, &Context{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewLspProvider("pyright", tt.source, tt.languageIDs, 8, zap.NewNop())
			ok, err := p.IsApplicable(context.Background(), tt.c)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestLspProvider_Fetch(t *testing.T) {
	source := newFakeSource()
	source.list = &base.CompletionList{Items: []base.CompletionItem{
		{Label: "array", Kind: 3, SortText: "a1"},
		{Label: "arange", Kind: 3, TextEdit: &base.TextEdit{
			Range:   base.Range{Start: base.Position{Line: 1, Character: 3}, End: base.Position{Line: 1, Character: 5}},
			NewText: "arange",
		}},
	}}

	p := NewLspProvider("pyright", source, nil, 8, zap.NewNop())
	assert.Equal(t, "lsp:pyright", p.Identifier())

	reply, err := p.Fetch(context.Background(), Request{Text: numpySource, Offset: 24}, pythonContext())
	require.NoError(t, err)
	require.NotNil(t, reply)

	assert.Equal(t, 22, reply.Start)
	assert.Equal(t, 24, reply.End)
	require.Len(t, reply.Items, 2)
	assert.Equal(t, "array", reply.Items[0].EffectiveText())
	assert.Equal(t, "function", reply.Items[0].Type)
	assert.Equal(t, "a1", reply.Items[0].Metadata["sortText"])
	assert.Equal(t, "arange", reply.Items[1].InsertText)

	require.Len(t, source.positions, 1)
	assert.Equal(t, base.Position{Line: 1, Character: 5}, source.positions[0])
	assert.Equal(t, "", source.triggers[0])
}

func TestLspProvider_FetchWidensToEarliestEdit(t *testing.T) {
	source := newFakeSource()
	source.list = &base.CompletionList{Items: []base.CompletionItem{
		{Label: "array"},
		{Label: "arange", TextEdit: &base.TextEdit{
			Range:   base.Range{Start: base.Position{Line: 1, Character: 2}, End: base.Position{Line: 1, Character: 5}},
			NewText: ".arange",
		}},
	}}

	p := NewLspProvider("pyright", source, nil, 8, zap.NewNop())
	reply, err := p.Fetch(context.Background(), Request{Text: numpySource, Offset: 24}, pythonContext())
	require.NoError(t, err)
	require.NotNil(t, reply)

	assert.Equal(t, 21, reply.Start)
	assert.Equal(t, ".array", reply.Items[0].InsertText)
	assert.Equal(t, ".arange", reply.Items[1].InsertText)
}

func TestLspProvider_FetchIgnoresStrayEditRange(t *testing.T) {
	source := newFakeSource()
	source.list = &base.CompletionList{Items: []base.CompletionItem{
		{Label: "array", TextEdit: &base.TextEdit{
			Range:   base.Range{Start: base.Position{Line: 0, Character: 0}, End: base.Position{Line: 0, Character: 6}},
			NewText: "array",
		}},
	}}

	p := NewLspProvider("pyright", source, nil, 8, zap.NewNop())
	reply, err := p.Fetch(context.Background(), Request{Text: numpySource, Offset: 24}, pythonContext())
	require.NoError(t, err)
	require.NotNil(t, reply)

	assert.Equal(t, 22, reply.Start)
	assert.Equal(t, "array", reply.Items[0].InsertText)
}

func TestLspProvider_FetchAfterTriggerCharacter(t *testing.T) {
	source := newFakeSource()
	source.list = &base.CompletionList{Items: []base.CompletionItem{{Label: "array"}}}

	p := NewLspProvider("pyright", source, nil, 8, zap.NewNop())
	reply, err := p.Fetch(context.Background(), Request{Text: "np.", Offset: 3}, pythonContext())
	require.NoError(t, err)
	require.NotNil(t, reply)

	assert.Equal(t, 3, reply.Start)
	assert.Equal(t, 3, reply.End)
	assert.Equal(t, ".", source.triggers[0])
}

func TestLspProvider_FetchEmptyAndErrors(t *testing.T) {
	source := newFakeSource()
	p := NewLspProvider("pyright", source, nil, 8, zap.NewNop())

	reply, err := p.Fetch(context.Background(), Request{Text: "x", Offset: 1}, pythonContext())
	require.NoError(t, err)
	assert.Nil(t, reply)

	source.err = errors.New("server crashed")
	_, err = p.Fetch(context.Background(), Request{Text: "x", Offset: 1}, pythonContext())
	assert.ErrorIs(t, err, source.err)
}

func TestLspProvider_ResolveIsCached(t *testing.T) {
	source := newFakeSource()
	source.list = &base.CompletionList{Items: []base.CompletionItem{{Label: "array", Raw: map[string]interface{}{"label": "array"}}}}

	p := NewLspProvider("pyright", source, nil, 8, zap.NewNop())
	c := pythonContext()
	reply, err := p.Fetch(context.Background(), Request{Text: numpySource, Offset: 24}, c)
	require.NoError(t, err)
	require.NotNil(t, reply)

	item := reply.Items[0]
	for i := 0; i < 3; i++ {
		resolved, err := p.Resolve(context.Background(), item, c)
		require.NoError(t, err)
		assert.Equal(t, "Create an array.", resolved.Documentation)
		assert.Equal(t, "numpy.array(object)", resolved.Detail)
	}
	assert.Equal(t, 1, source.resolveCalls)
}

func TestLspProvider_ResolveKeepsOverloadsApart(t *testing.T) {
	source := newFakeSource()
	source.resolve = func(item *base.CompletionItem) *base.CompletionItem {
		resolved := *item
		resolved.Documentation = "append to " + item.Raw["data"].(map[string]interface{})["receiver"].(string)
		return &resolved
	}
	source.list = &base.CompletionList{Items: []base.CompletionItem{
		{Label: "append", Kind: 2, Detail: "append(x)", Raw: map[string]interface{}{
			"label": "append", "data": map[string]interface{}{"receiver": "list"}}},
		{Label: "append", Kind: 2, Detail: "append(x)", Raw: map[string]interface{}{
			"label": "append", "data": map[string]interface{}{"receiver": "deque"}}},
		{Label: "append", Kind: 3, Detail: "append(arr, values)", Raw: map[string]interface{}{
			"label": "append", "data": map[string]interface{}{"receiver": "numpy"}}},
	}}

	p := NewLspProvider("pyright", source, nil, 8, zap.NewNop())
	c := pythonContext()
	reply, err := p.Fetch(context.Background(), Request{Text: numpySource, Offset: 24}, c)
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Len(t, reply.Items, 3)

	var docs []string
	for _, item := range reply.Items {
		resolved, err := p.Resolve(context.Background(), item, c)
		require.NoError(t, err)
		docs = append(docs, resolved.Documentation)
	}
	assert.Equal(t, []string{"append to list", "append to deque", "append to numpy"}, docs)
	assert.Equal(t, 3, source.resolveCalls)
}

func TestLspProvider_ResolveWithoutServerSupport(t *testing.T) {
	source := newFakeSource()
	source.options["resolveProvider"] = false
	source.list = &base.CompletionList{Items: []base.CompletionItem{{Label: "array"}}}

	p := NewLspProvider("pyright", source, nil, 8, zap.NewNop())
	reply, err := p.Fetch(context.Background(), Request{Text: numpySource, Offset: 24}, pythonContext())
	require.NoError(t, err)
	require.NotNil(t, reply)

	resolved, err := p.Resolve(context.Background(), reply.Items[0], pythonContext())
	require.NoError(t, err)
	assert.Empty(t, resolved.Documentation)
	assert.Zero(t, source.resolveCalls)
}

func TestLspProvider_ShouldShowContinuousHint(t *testing.T) {
	p := NewLspProvider("pyright", newFakeSource(), nil, 8, zap.NewNop())

	tests := []struct {
		name     string
		visible  bool
		inserted string
		expected bool
	}{
		{"identifier", false, "a", true},
		{"trigger character", false, ".", true},
		{"whitespace", false, " ", false},
		{"deletion", false, "", false},
		{"already visible", true, "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.ShouldShowContinuousHint(tt.visible, SourceChange{Inserted: tt.inserted}, pythonContext()))
		})
	}
}
