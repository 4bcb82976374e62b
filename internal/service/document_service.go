package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/armchr/lspcomplete/internal/util"
	"github.com/armchr/lspcomplete/pkg/lsp/base"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

var ErrUnknownDocument = errors.New("unknown document")

type document struct {
	mu   sync.Mutex
	info base.DocumentInfo
	// synced holds the copy each server has seen; versions advance per server.
	synced map[string]*base.DocumentInfo
	closed bool
}

// DocumentService owns the text of every open document and mirrors it to the
// language servers serving the document language.
type DocumentService struct {
	registry  Registry
	documents *util.SafeMap[*document]
	logger    *zap.Logger
}

func NewDocumentService(registry Registry, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		registry:  registry,
		documents: util.NewSafeMap[*document](),
		logger:    logger,
	}
}

// acquire returns the locked live document for uri, creating it when create
// is set.
func (ds *DocumentService) acquire(uri, languageID, text string, create bool) (*document, bool) {
	for {
		var doc *document
		existed := true
		if create {
			doc, existed = ds.documents.GetOrSet(uri, &document{
				info:   base.DocumentInfo{URI: uri, LanguageID: languageID, Text: text},
				synced: make(map[string]*base.DocumentInfo),
			})
		} else {
			var ok bool
			if doc, ok = ds.documents.Get(uri); !ok {
				return nil, false
			}
		}

		doc.mu.Lock()
		if !doc.closed {
			return doc, existed
		}
		// Lost a race with Close; the entry is already gone from the map.
		doc.mu.Unlock()
	}
}

// Open registers a document and announces it to its servers. Opening a known
// document replaces its text and, if the language changed, moves it to the
// servers of the new language.
func (ds *DocumentService) Open(ctx context.Context, uri, languageID, text string) (base.DocumentInfo, error) {
	doc, existed := ds.acquire(uri, languageID, text, true)
	defer doc.mu.Unlock()

	var result *multierror.Error
	if existed {
		if doc.info.LanguageID != languageID {
			result = multierror.Append(result, ds.closeSynced(ctx, doc))
			doc.info.LanguageID = languageID
		}
		if doc.info.Text != text {
			doc.info.Text = text
			doc.info.Version++
		}
	}

	ds.logger.Debug("Opening document",
		zap.String("uri", uri), zap.String("language", languageID), zap.Bool("reopen", existed))

	result = multierror.Append(result, ds.sync(ctx, doc, func(s Session, synced *base.DocumentInfo, fresh bool) error {
		if fresh {
			return s.SendOpen(ctx, synced)
		}
		return s.SendChange(ctx, synced)
	}))
	return doc.info, result.ErrorOrNil()
}

// Change replaces the text of a document. An unknown document is opened when
// languageID is given.
func (ds *DocumentService) Change(ctx context.Context, uri, languageID, text string) (base.DocumentInfo, error) {
	doc, ok := ds.acquire(uri, "", "", false)
	if !ok {
		if languageID == "" {
			return base.DocumentInfo{}, fmt.Errorf("%w: %s", ErrUnknownDocument, uri)
		}
		return ds.Open(ctx, uri, languageID, text)
	}
	defer doc.mu.Unlock()

	if doc.info.Text == text {
		return doc.info, nil
	}
	doc.info.Text = text
	doc.info.Version++

	err := ds.sync(ctx, doc, func(s Session, synced *base.DocumentInfo, _ bool) error {
		return s.SendChange(ctx, synced)
	})
	return doc.info, err
}

// Save notifies the servers that a document was saved. A non-nil text is
// applied as a change first.
func (ds *DocumentService) Save(ctx context.Context, uri string, text *string) (base.DocumentInfo, error) {
	doc, ok := ds.acquire(uri, "", "", false)
	if !ok {
		return base.DocumentInfo{}, fmt.Errorf("%w: %s", ErrUnknownDocument, uri)
	}
	defer doc.mu.Unlock()

	changed := text != nil && *text != doc.info.Text
	if changed {
		doc.info.Text = *text
		doc.info.Version++
	}

	err := ds.sync(ctx, doc, func(s Session, synced *base.DocumentInfo, _ bool) error {
		if changed {
			if err := s.SendChange(ctx, synced); err != nil {
				return err
			}
		}
		return s.SendSaved(ctx, synced)
	})
	return doc.info, err
}

// Close forgets a document and tells every server that saw it.
func (ds *DocumentService) Close(ctx context.Context, uri string) error {
	doc, ok := ds.acquire(uri, "", "", false)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, uri)
	}
	defer doc.mu.Unlock()

	doc.closed = true
	ds.documents.Delete(uri)
	ds.logger.Debug("Closing document", zap.String("uri", uri))
	return ds.closeSynced(ctx, doc)
}

func (ds *DocumentService) closeSynced(ctx context.Context, doc *document) error {
	var result *multierror.Error
	for name, synced := range doc.synced {
		session, err := ds.registry.Lookup(name)
		if err != nil {
			continue
		}
		if err := session.SendClose(ctx, synced); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	doc.synced = make(map[string]*base.DocumentInfo)
	return result.ErrorOrNil()
}

// sync applies send to every ready server of the document language. fresh
// reports whether the server has not been sent this document before.
func (ds *DocumentService) sync(ctx context.Context, doc *document, send func(s Session, synced *base.DocumentInfo, fresh bool) error) error {
	var result *multierror.Error
	for _, server := range ds.registry.ForLanguage(doc.info.LanguageID) {
		synced, seen := doc.synced[server.Name]
		if !seen {
			synced = &base.DocumentInfo{URI: doc.info.URI, LanguageID: doc.info.LanguageID}
			doc.synced[server.Name] = synced
		}
		synced.Text = doc.info.Text

		if err := send(server.Session, synced, !seen); err != nil {
			ds.logger.Warn("Failed to sync document",
				zap.String("uri", doc.info.URI), zap.String("server", server.Name), zap.Error(err))
			result = multierror.Append(result, fmt.Errorf("%s: %w", server.Name, err))
		}
	}
	return result.ErrorOrNil()
}

// Get returns a snapshot of the document.
func (ds *DocumentService) Get(uri string) (base.DocumentInfo, bool) {
	doc, ok := ds.acquire(uri, "", "", false)
	if !ok {
		return base.DocumentInfo{}, false
	}
	defer doc.mu.Unlock()
	return doc.info, true
}

// List returns snapshots of every open document ordered by uri.
func (ds *DocumentService) List() []base.DocumentInfo {
	var out []base.DocumentInfo
	for _, uri := range ds.documents.Keys() {
		if info, ok := ds.Get(uri); ok {
			out = append(out, info)
		}
	}
	return out
}

// ServerVersion returns the version the named server will see next for uri.
func (ds *DocumentService) ServerVersion(uri, server string) (int, bool) {
	doc, ok := ds.acquire(uri, "", "", false)
	if !ok {
		return 0, false
	}
	defer doc.mu.Unlock()
	synced, ok := doc.synced[server]
	if !ok {
		return 0, false
	}
	return synced.Version, true
}
