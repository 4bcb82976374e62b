package controller

import (
	"net/http"

	"github.com/armchr/lspcomplete/internal/model"
	"github.com/armchr/lspcomplete/internal/service"
	"github.com/armchr/lspcomplete/pkg/completer"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CompletionController serves completion, resolve and hint queries.
type CompletionController struct {
	completions *service.CompletionService
	logger      *zap.Logger
}

func NewCompletionController(completions *service.CompletionService, logger *zap.Logger) *CompletionController {
	return &CompletionController{
		completions: completions,
		logger:      logger,
	}
}

// Complete answers 204 when no provider offered anything in time.
func (cc *CompletionController) Complete(c *gin.Context) {
	var request model.CompleteRequest
	if !bindJSON(c, &request, cc.logger) {
		return
	}

	reply, err := cc.completions.Complete(c.Request.Context(), request.URI, *request.Offset, request.Text)
	if err != nil {
		respondError(c, err, cc.logger)
		return
	}
	if reply == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, model.CompleteResponse{
		Start: reply.Start,
		End:   reply.End,
		Items: reply.Items,
	})
}

func (cc *CompletionController) Resolve(c *gin.Context) {
	var request model.ResolveRequest
	if !bindJSON(c, &request, cc.logger) {
		return
	}

	item, err := cc.completions.Resolve(c.Request.Context(), request.URI, request.Provider, request.Label)
	if err != nil {
		respondError(c, err, cc.logger)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (cc *CompletionController) Hint(c *gin.Context) {
	var request model.HintRequest
	if !bindJSON(c, &request, cc.logger) {
		return
	}

	show, err := cc.completions.ShouldShowContinuousHint(request.URI, request.Visible, completer.SourceChange{
		Inserted: request.Inserted,
		Removed:  request.Removed,
	})
	if err != nil {
		respondError(c, err, cc.logger)
		return
	}
	c.JSON(http.StatusOK, model.HintResponse{Show: show})
}
