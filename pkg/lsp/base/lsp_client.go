package base

import (
	"context"
)

// DocumentSync is the document-facing half of a language server session.
// Every method is a no-op while the session is not ready.
type DocumentSync interface {
	IsReady() bool
	SendOpen(ctx context.Context, doc *DocumentInfo) error
	SendChange(ctx context.Context, doc *DocumentInfo) error
	SendSaved(ctx context.Context, doc *DocumentInfo) error
	SendClose(ctx context.Context, doc *DocumentInfo) error
	SendConfigurationChange(ctx context.Context, settings interface{}) error
}
