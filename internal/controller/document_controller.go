package controller

import (
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/armchr/lspcomplete/internal/model"
	"github.com/armchr/lspcomplete/internal/service"
	"github.com/armchr/lspcomplete/pkg/lsp"
	"github.com/armchr/lspcomplete/pkg/lsp/base"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DocumentController exposes the document lifecycle.
type DocumentController struct {
	documents   *service.DocumentService
	completions *service.CompletionService
	logger      *zap.Logger
}

func NewDocumentController(documents *service.DocumentService, completions *service.CompletionService, logger *zap.Logger) *DocumentController {
	return &DocumentController{
		documents:   documents,
		completions: completions,
		logger:      logger,
	}
}

func (dc *DocumentController) OpenDocument(c *gin.Context) {
	var request model.OpenDocumentRequest
	if !bindJSON(c, &request, dc.logger) {
		return
	}

	info, err := dc.documents.Open(c.Request.Context(), request.URI, request.LanguageID, request.Text)
	dc.respondDocument(c, info, err)
}

func (dc *DocumentController) ChangeDocument(c *gin.Context) {
	var request model.ChangeDocumentRequest
	if !bindJSON(c, &request, dc.logger) {
		return
	}

	info, err := dc.documents.Change(c.Request.Context(), request.URI, request.LanguageID, request.Text)
	dc.respondDocument(c, info, err)
}

func (dc *DocumentController) SaveDocument(c *gin.Context) {
	var request model.SaveDocumentRequest
	if !bindJSON(c, &request, dc.logger) {
		return
	}

	info, err := dc.documents.Save(c.Request.Context(), request.URI, request.Text)
	dc.respondDocument(c, info, err)
}

func (dc *DocumentController) CloseDocument(c *gin.Context) {
	var request model.CloseDocumentRequest
	if !bindJSON(c, &request, dc.logger) {
		return
	}

	err := dc.documents.Close(c.Request.Context(), request.URI)
	if errors.Is(err, service.ErrUnknownDocument) {
		respondError(c, err, dc.logger)
		return
	}
	dc.completions.Forget(request.URI)

	response := gin.H{"uri": request.URI, "status": "closed"}
	if err != nil {
		dc.logger.Warn("Document closed with sync errors", zap.String("uri", request.URI), zap.Error(err))
		response["sync_error"] = err.Error()
	}
	c.JSON(http.StatusOK, response)
}

func (dc *DocumentController) ListDocuments(c *gin.Context) {
	docs := dc.documents.List()
	response := make([]model.DocumentResponse, 0, len(docs))
	for _, info := range docs {
		response = append(response, toDocumentResponse(info))
	}
	c.JSON(http.StatusOK, gin.H{"documents": response})
}

// respondDocument reports server sync failures alongside the updated
// document; the local update has already happened.
func (dc *DocumentController) respondDocument(c *gin.Context, info base.DocumentInfo, err error) {
	if errors.Is(err, service.ErrUnknownDocument) {
		respondError(c, err, dc.logger)
		return
	}

	response := toDocumentResponse(info)
	if err != nil {
		dc.logger.Warn("Document updated with sync errors", zap.String("uri", info.URI), zap.Error(err))
		response.SyncError = err.Error()
	}
	c.JSON(http.StatusOK, response)
}

func toDocumentResponse(info base.DocumentInfo) model.DocumentResponse {
	return model.DocumentResponse{
		URI:        info.URI,
		LanguageID: info.LanguageID,
		Version:    info.Version,
		Length:     utf8.RuneCountInString(info.Text),
	}
}

func bindJSON(c *gin.Context, request interface{}, logger *zap.Logger) bool {
	if err := c.ShouldBindJSON(request); err != nil {
		logger.Error("Invalid request payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func respondError(c *gin.Context, err error, logger *zap.Logger) {
	status := http.StatusInternalServerError
	message := "Internal server error"
	switch {
	case errors.Is(err, service.ErrUnknownDocument):
		status, message = http.StatusNotFound, "Document not found"
	case errors.Is(err, service.ErrUnknownItem):
		status, message = http.StatusNotFound, "Completion item not found"
	case errors.Is(err, lsp.ErrUnknownServer):
		status, message = http.StatusNotFound, "Language server not found"
	case errors.Is(err, lsp.ErrNotConnected), errors.Is(err, lsp.ErrNotReady):
		status, message = http.StatusServiceUnavailable, "Language server unavailable"
	default:
		logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
