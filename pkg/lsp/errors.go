package lsp

import (
	"errors"
)

var (
	// ErrNotConnected is returned when an operation needs a live transport.
	ErrNotConnected = errors.New("lsp connection not connected")

	// ErrAlreadyConnected is returned by Connect on a connection that already has a transport.
	ErrAlreadyConnected = errors.New("lsp connection already connected")

	// ErrClosed is returned once Close has been called; connections are not reusable.
	ErrClosed = errors.New("lsp connection closed")

	// ErrNotReady is returned by requests issued before the initialize handshake completed.
	ErrNotReady = errors.New("language server not ready")

	// ErrNotSupported is returned when the server did not announce the capability a request needs.
	ErrNotSupported = errors.New("capability not supported by language server")

	// ErrUnmappableRegistration marks a dynamic registration whose method has no
	// capabilities key.
	ErrUnmappableRegistration = errors.New("registration method has no capability provider")

	// ErrUnknownServer is returned when no connection is configured under a name.
	ErrUnknownServer = errors.New("unknown language server")
)
