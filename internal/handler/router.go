package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/armchr/lspcomplete/internal/config"
	"github.com/armchr/lspcomplete/internal/controller"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// responseWriter wraps gin.ResponseWriter to capture the response body
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func SetupRouter(documentController *controller.DocumentController, completionController *controller.CompletionController, serverController *controller.ServerController, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(CustomRecoveryMiddleware(logger))
	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware(cfg.App.DebugHTTP, logger))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status": "healthy",
			})
		})

		// Language servers
		v1.GET("/servers", serverController.ListServers)
		v1.POST("/configuration", serverController.UpdateConfiguration)

		// Document lifecycle
		documents := v1.Group("/documents")
		{
			documents.GET("", documentController.ListDocuments)
			documents.POST("/open", documentController.OpenDocument)
			documents.POST("/change", documentController.ChangeDocument)
			documents.POST("/save", documentController.SaveDocument)
			documents.POST("/close", documentController.CloseDocument)
		}

		// Completion
		v1.POST("/complete", completionController.Complete)
		v1.POST("/resolve", completionController.Resolve)
		v1.POST("/hint", completionController.Hint)
	}

	return router
}

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags every request with an id, keeping one supplied by
// the client.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// maxLoggedBody bounds a request or response body in debug logs.
const maxLoggedBody = 4096

// LoggerMiddleware logs every request and its outcome. With debugHTTP the
// bodies are logged too, summarized by summarizeBody.
func LoggerMiddleware(debugHTTP bool, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLogger := logger.With(
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString("request_id")),
		)

		var responseBody *bytes.Buffer
		requestFields := []zap.Field{zap.String("client_ip", c.ClientIP())}
		if debugHTTP {
			if c.Request.Body != nil {
				requestBody, _ := io.ReadAll(c.Request.Body)
				c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
				if len(requestBody) > 0 {
					requestFields = append(requestFields, zap.String("request_body", summarizeBody(requestBody)))
				}
			}

			responseBody = &bytes.Buffer{}
			c.Writer = &responseWriter{ResponseWriter: c.Writer, body: responseBody}
		}
		reqLogger.Info("HTTP Request", requestFields...)

		c.Next()

		responseFields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if responseBody != nil && responseBody.Len() > 0 {
			responseFields = append(responseFields, zap.String("response_body", summarizeBody(responseBody.Bytes())))
		}
		reqLogger.Info("HTTP Response", responseFields...)
	}
}

// summarizeBody renders a JSON body for logs. Document text is replaced by its
// length and completion items by their count; other fields are kept.
func summarizeBody(body []byte) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return truncateBody(string(body))
	}
	if text, ok := payload["text"].(string); ok {
		payload["text"] = fmt.Sprintf("<%d chars>", utf8.RuneCountInString(text))
	}
	if items, ok := payload["items"].([]interface{}); ok {
		payload["items"] = fmt.Sprintf("<%d items>", len(items))
	}
	var summary bytes.Buffer
	encoder := json.NewEncoder(&summary)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		return truncateBody(string(body))
	}
	return truncateBody(strings.TrimSuffix(summary.String(), "\n"))
}

func truncateBody(body string) string {
	if len(body) <= maxLoggedBody {
		return body
	}
	return body[:maxLoggedBody] + "... (truncated)"
}

func CustomRecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("stack", string(debug.Stack())),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.String("request_id", c.GetString("request_id")),
				)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
