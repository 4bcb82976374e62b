package model

import (
	"github.com/armchr/lspcomplete/pkg/completer"
)

type OpenDocumentRequest struct {
	URI        string `json:"uri" binding:"required"`
	LanguageID string `json:"language_id" binding:"required"`
	Text       string `json:"text"`
}

type ChangeDocumentRequest struct {
	URI string `json:"uri" binding:"required"`
	// LanguageID opens the document when it is not known yet.
	LanguageID string `json:"language_id"`
	Text       string `json:"text"`
}

type SaveDocumentRequest struct {
	URI  string  `json:"uri" binding:"required"`
	Text *string `json:"text"`
}

type CloseDocumentRequest struct {
	URI string `json:"uri" binding:"required"`
}

type DocumentResponse struct {
	URI        string `json:"uri"`
	LanguageID string `json:"language_id"`
	Version    int    `json:"version"`
	Length     int    `json:"length"`
	SyncError  string `json:"sync_error,omitempty"`
}

type CompleteRequest struct {
	URI    string  `json:"uri" binding:"required"`
	Offset *int    `json:"offset" binding:"required"`
	Text   *string `json:"text"`
}

type CompleteResponse struct {
	Start int              `json:"start"`
	End   int              `json:"end"`
	Items []completer.Item `json:"items"`
}

type ResolveRequest struct {
	URI      string `json:"uri" binding:"required"`
	Label    string `json:"label" binding:"required"`
	Provider string `json:"provider"`
}

type HintRequest struct {
	URI      string `json:"uri" binding:"required"`
	Visible  bool   `json:"visible"`
	Inserted string `json:"inserted"`
	Removed  string `json:"removed"`
}

type HintResponse struct {
	Show bool `json:"show"`
}

type ConfigurationRequest struct {
	Server   string      `json:"server" binding:"required"`
	Settings interface{} `json:"settings"`
}
