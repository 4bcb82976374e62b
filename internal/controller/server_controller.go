package controller

import (
	"net/http"

	"github.com/armchr/lspcomplete/internal/model"
	"github.com/armchr/lspcomplete/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServerController reports and configures the language servers.
type ServerController struct {
	registry service.Registry
	logger   *zap.Logger
}

func NewServerController(registry service.Registry, logger *zap.Logger) *ServerController {
	return &ServerController{
		registry: registry,
		logger:   logger,
	}
}

func (sc *ServerController) ListServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": sc.registry.Status()})
}

// UpdateConfiguration forwards settings to one server as
// workspace/didChangeConfiguration.
func (sc *ServerController) UpdateConfiguration(c *gin.Context) {
	var request model.ConfigurationRequest
	if !bindJSON(c, &request, sc.logger) {
		return
	}

	session, err := sc.registry.Lookup(request.Server)
	if err != nil {
		respondError(c, err, sc.logger)
		return
	}
	if err := session.SendConfigurationChange(c.Request.Context(), request.Settings); err != nil {
		respondError(c, err, sc.logger)
		return
	}

	sc.logger.Info("Forwarded configuration change", zap.String("server", request.Server))
	c.JSON(http.StatusOK, gin.H{"server": request.Server, "status": "updated"})
}
