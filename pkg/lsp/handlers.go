package lsp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/armchr/lspcomplete/pkg/lsp/base"

	"github.com/sourcegraph/jsonrpc2"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"
)

// handle answers server-initiated requests and notifications.
func (c *Connection) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case base.MethodClientRegisterCapability:
		var params protocol.RegistrationParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		c.registerCapabilities(params.Registrations)
		return nil, nil

	case base.MethodClientUnregisterCapability:
		var params protocol.UnregistrationParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		c.unregisterCapabilities(params.Unregisterations)
		return nil, nil

	case base.MethodWorkspaceConfiguration:
		var params protocol.ConfigurationParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		return c.configurationItems(params.Items), nil

	case base.MethodWindowWorkDoneProgressCreate:
		return nil, nil

	case base.MethodWindowLogMessage, base.MethodWindowShowMessage:
		var params protocol.LogMessageParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		c.logServerMessage(req.Method, params.Type, params.Message)
		return nil, nil
	}

	if req.Notif {
		c.logger.Debug("Ignoring server notification", zap.String("method", req.Method))
		return nil, nil
	}
	c.logger.Debug("Unsupported server request", zap.String("method", req.Method))
	return nil, &jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: "method not supported: " + req.Method,
	}
}

func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return nil
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

// updateCapabilities publishes a modified copy of the capabilities.
func (c *Connection) updateCapabilities(mutate func(base.ServerCapabilities)) {
	c.capMu.Lock()
	defer c.capMu.Unlock()

	next := c.capabilities.Load().Clone()
	mutate(next)
	c.capabilities.Store(&next)
}

func (c *Connection) registerCapabilities(registrations []protocol.Registration) {
	c.updateCapabilities(func(caps base.ServerCapabilities) {
		for _, reg := range registrations {
			provider, ok := base.CapabilityProviderName(reg.Method)
			if !ok {
				c.logger.Warn("Skipping capability registration",
					zap.String("id", reg.ID),
					zap.String("method", reg.Method),
					zap.Error(ErrUnmappableRegistration))
				continue
			}
			if reg.RegisterOptions != nil {
				caps[provider] = base.DeepCopyJSON(reg.RegisterOptions)
			} else {
				caps[provider] = true
			}
			c.logger.Debug("Registered capability", zap.String("provider", provider), zap.String("id", reg.ID))
		}
	})
}

func (c *Connection) unregisterCapabilities(unregistrations []protocol.Unregistration) {
	c.updateCapabilities(func(caps base.ServerCapabilities) {
		for _, unreg := range unregistrations {
			provider, ok := base.CapabilityProviderName(unreg.Method)
			if !ok {
				c.logger.Warn("Skipping capability unregistration",
					zap.String("id", unreg.ID),
					zap.String("method", unreg.Method),
					zap.Error(ErrUnmappableRegistration))
				continue
			}
			delete(caps, provider)
			c.logger.Debug("Unregistered capability", zap.String("provider", provider), zap.String("id", unreg.ID))
		}
	})
}

// configurationItems resolves each requested section against the settings
// last sent to the server. Dotted sections walk nested objects.
func (c *Connection) configurationItems(items []protocol.ConfigurationItem) []interface{} {
	settings := c.currentSettings()
	result := make([]interface{}, len(items))
	for i, item := range items {
		if item.Section == nil || *item.Section == "" {
			result[i] = settings
			continue
		}
		result[i] = lookupSection(settings, *item.Section)
	}
	return result
}

func lookupSection(settings interface{}, section string) interface{} {
	current := settings
	for _, key := range strings.Split(section, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[key]
		if !ok {
			return nil
		}
	}
	return current
}

func (c *Connection) logServerMessage(method string, kind protocol.MessageType, message string) {
	fields := []zap.Field{zap.String("method", method), zap.String("message", message)}
	switch kind {
	case protocol.MessageTypeError:
		c.logger.Error("Language server message", fields...)
	case protocol.MessageTypeWarning:
		c.logger.Warn("Language server message", fields...)
	case protocol.MessageTypeInfo:
		c.logger.Info("Language server message", fields...)
	default:
		c.logger.Debug("Language server message", fields...)
	}
}
