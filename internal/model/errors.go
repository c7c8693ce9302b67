package model

import "errors"

var (
	// ErrSessionNotFound is returned when a session id resolves to nothing
	// in memory or on disk.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy is returned when a turn arrives while another turn is
	// still in flight for the same session.
	ErrSessionBusy = errors.New("a message is already being processed")

	// ErrSessionTransferred is returned when input arrives for a session
	// whose continuation was handed off to a terminal.
	ErrSessionTransferred = errors.New("session was transferred to a terminal")

	// ErrProviderDisabled is returned when a session targets a model whose
	// provider is disabled in settings.
	ErrProviderDisabled = errors.New("provider is disabled")

	// ErrProjectNotFound is returned for unknown project ids.
	ErrProjectNotFound = errors.New("project not found")

	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTerminalNotFound is returned for unknown terminal ids.
	ErrTerminalNotFound = errors.New("terminal not found")

	// ErrBadAttachment is returned for attachments with a missing name or
	// unknown encoding.
	ErrBadAttachment = errors.New("invalid attachment")

	// ErrPathOutsideRoot is returned when a file operation would resolve
	// outside the owning project's root.
	ErrPathOutsideRoot = errors.New("path escapes project root")

	// ErrFileTooLarge is returned when a read target exceeds the file
	// service size cap.
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnauthorized is returned when a connection fails authentication.
	ErrUnauthorized = errors.New("unauthorized")
)
