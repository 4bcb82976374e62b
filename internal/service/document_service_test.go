package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const cellURI = "file:///notebooks/analysis.ipynb#cell-1"

func newTestDocuments(t *testing.T) (*DocumentService, *fakeRegistry, *fakeSession, *fakeSession) {
	t.Helper()
	pyright, gopls := newFakeSession(), newFakeSession()
	registry := &fakeRegistry{}
	registry.add("pyright", pyright, "python")
	registry.add("gopls", gopls, "go")
	return NewDocumentService(registry, zap.NewNop()), registry, pyright, gopls
}

func TestDocumentService_OpenRoutesByLanguage(t *testing.T) {
	ds, _, pyright, gopls := newTestDocuments(t)
	ctx := context.Background()

	info, err := ds.Open(ctx, cellURI, "python", "import numpy")
	require.NoError(t, err)
	assert.Equal(t, "python", info.LanguageID)
	assert.Equal(t, 0, info.Version)

	assert.Equal(t, []sessionEvent{
		{Method: "didOpen", URI: cellURI, Version: 0, Text: "import numpy"},
		{Method: "didChange", URI: cellURI, Version: 0, Text: "import numpy"},
	}, pyright.Events())
	assert.Empty(t, gopls.Events())

	version, ok := ds.ServerVersion(cellURI, "pyright")
	require.True(t, ok)
	assert.Equal(t, 1, version)
}

func TestDocumentService_Change(t *testing.T) {
	ds, _, pyright, _ := newTestDocuments(t)
	ctx := context.Background()

	_, err := ds.Open(ctx, cellURI, "python", "a")
	require.NoError(t, err)
	pyright.Reset()

	info, err := ds.Change(ctx, cellURI, "", "ab")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Version)
	assert.Equal(t, "ab", info.Text)

	// Unchanged text is not resent.
	_, err = ds.Change(ctx, cellURI, "", "ab")
	require.NoError(t, err)

	assert.Equal(t, []sessionEvent{{Method: "didChange", URI: cellURI, Version: 1, Text: "ab"}}, pyright.Events())

	version, _ := ds.ServerVersion(cellURI, "pyright")
	assert.Equal(t, 2, version)
}

func TestDocumentService_ChangeUnknownDocument(t *testing.T) {
	ds, _, pyright, _ := newTestDocuments(t)
	ctx := context.Background()

	_, err := ds.Change(ctx, "file:///missing.py", "", "x")
	assert.ErrorIs(t, err, ErrUnknownDocument)

	info, err := ds.Change(ctx, "file:///new.py", "python", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", info.Text)
	assert.Equal(t, []string{"didOpen", "didChange"}, pyright.Methods())
}

func TestDocumentService_Save(t *testing.T) {
	ds, _, pyright, _ := newTestDocuments(t)
	ctx := context.Background()

	_, err := ds.Open(ctx, cellURI, "python", "a")
	require.NoError(t, err)
	pyright.Reset()

	_, err = ds.Save(ctx, cellURI, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"didSave"}, pyright.Methods())

	pyright.Reset()
	text := "a = 1"
	info, err := ds.Save(ctx, cellURI, &text)
	require.NoError(t, err)
	assert.Equal(t, "a = 1", info.Text)
	assert.Equal(t, []string{"didChange", "didSave"}, pyright.Methods())

	_, err = ds.Save(ctx, "file:///missing.py", nil)
	assert.ErrorIs(t, err, ErrUnknownDocument)
}

func TestDocumentService_Close(t *testing.T) {
	ds, _, pyright, _ := newTestDocuments(t)
	ctx := context.Background()

	_, err := ds.Open(ctx, cellURI, "python", "a")
	require.NoError(t, err)
	pyright.Reset()

	require.NoError(t, ds.Close(ctx, cellURI))
	assert.Equal(t, []string{"didClose"}, pyright.Methods())

	_, ok := ds.Get(cellURI)
	assert.False(t, ok)
	assert.Empty(t, ds.List())
	assert.ErrorIs(t, ds.Close(ctx, cellURI), ErrUnknownDocument)
}

func TestDocumentService_ReopenWithNewLanguage(t *testing.T) {
	ds, _, pyright, gopls := newTestDocuments(t)
	ctx := context.Background()

	_, err := ds.Open(ctx, cellURI, "python", "x")
	require.NoError(t, err)
	pyright.Reset()

	info, err := ds.Open(ctx, cellURI, "go", "package main")
	require.NoError(t, err)
	assert.Equal(t, "go", info.LanguageID)
	assert.Equal(t, 1, info.Version)

	assert.Equal(t, []string{"didClose"}, pyright.Methods())
	assert.Equal(t, []string{"didOpen", "didChange"}, gopls.Methods())
}

func TestDocumentService_ServerNotReadyYet(t *testing.T) {
	ds, registry, pyright, _ := newTestDocuments(t)
	ctx := context.Background()

	pyright.mu.Lock()
	pyright.ready = false
	pyright.mu.Unlock()

	_, err := ds.Open(ctx, cellURI, "python", "a")
	require.NoError(t, err)
	assert.Empty(t, pyright.Events())

	// A server that comes up later receives the document on the next change.
	late := newFakeSession()
	registry.add("pyright", late, "python")
	_, err = ds.Change(ctx, cellURI, "", "ab")
	require.NoError(t, err)
	assert.Equal(t, []string{"didOpen", "didChange"}, late.Methods())
}

func TestDocumentService_ConcurrentChanges(t *testing.T) {
	ds, _, pyright, _ := newTestDocuments(t)
	ctx := context.Background()

	_, err := ds.Open(ctx, cellURI, "python", "")
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ds.Change(ctx, cellURI, "", fmt.Sprintf("x = %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	info, ok := ds.Get(cellURI)
	require.True(t, ok)
	assert.Equal(t, writers, info.Version)

	var versions []int
	for _, e := range pyright.Events() {
		if e.Method == "didChange" {
			versions = append(versions, e.Version)
		}
	}
	require.Len(t, versions, writers+1)
	for i, v := range versions {
		assert.Equal(t, i, v)
	}
}
