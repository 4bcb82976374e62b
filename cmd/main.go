package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/armchr/lspcomplete/internal/config"
	"github.com/armchr/lspcomplete/internal/controller"
	"github.com/armchr/lspcomplete/internal/handler"
	"github.com/armchr/lspcomplete/internal/service"
	"github.com/armchr/lspcomplete/pkg/lsp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 10 * time.Second

// stringSliceFlag is a custom flag type that allows multiple values
type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// parseLogLevel converts a string log level to zapcore.Level
func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel // default to info
	}
}

func main() {
	var configPath = flag.String("config", "config.yaml", "Path to configuration file")
	var port = flag.Int("port", 0, "Server port (overrides app.port)")
	var check = flag.Bool("check", false, "Connect to the language servers, print their status and exit")
	var only stringSliceFlag
	flag.Var(&only, "server", "Language server to start (can be specified multiple times, default all)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if *port != 0 {
		cfg.App.Port = *port
	}
	if len(only) > 0 {
		if cfg.LanguageServers, err = selectServers(cfg.LanguageServers, only); err != nil {
			log.Fatal("Invalid -server flag:", err)
		}
	}

	cfgZap := zap.NewProductionConfig()
	cfgZap.Level.SetLevel(parseLogLevel(cfg.App.LogLevel))
	cfgZap.OutputPaths = []string{"stdout"}
	if cfg.App.LogFile != "" {
		cfgZap.OutputPaths = append(cfgZap.OutputPaths, cfg.App.LogFile)
	}
	logger, err := cfgZap.Build()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}

	defer logger.Sync()

	logger.Info("Configuration loaded successfully",
		zap.Int("port", cfg.App.Port),
		zap.Strings("language_servers", cfg.LanguageServers.Names()),
		zap.Duration("completion_timeout", cfg.Completion.Timeout()))

	lspService := lsp.NewLspService(cfg.LanguageServers, logger)
	if err := lspService.ConnectAll(context.Background()); err != nil {
		// Servers that failed stay down; completions fall back to the rest.
		logger.Warn("Some language servers failed to start", zap.Error(err))
	}
	registry := service.NewLspRegistry(lspService, cfg.LanguageServers)

	if *check {
		CheckCommand(registry, lspService, logger)
		return
	}

	documents := service.NewDocumentService(registry, logger)
	completions := service.NewCompletionService(documents, registry, cfg.Completion, logger)

	router := handler.SetupRouter(
		controller.NewDocumentController(documents, completions, logger),
		controller.NewCompletionController(completions, logger),
		controller.NewServerController(registry, logger),
		cfg, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting server", zap.Int("port", cfg.App.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := lspService.Close(ctx); err != nil {
		logger.Error("Language server shutdown failed", zap.Error(err))
	}
}

// CheckCommand prints the status of every configured server as JSON.
func CheckCommand(registry service.Registry, lspService *lsp.LspService, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	defer func() {
		if err := lspService.Close(ctx); err != nil {
			logger.Warn("Language server shutdown failed", zap.Error(err))
		}
	}()

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(registry.Status()); err != nil {
		logger.Error("Failed to write status", zap.Error(err))
	}
}

func selectServers(servers config.LanguageServersConfig, names []string) (config.LanguageServersConfig, error) {
	selected := make(config.LanguageServersConfig, len(names))
	for _, name := range names {
		ls, ok := servers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", lsp.ErrUnknownServer, name)
		}
		selected[name] = ls
	}
	return selected, nil
}
