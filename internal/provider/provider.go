// Package provider abstracts the LLM backends behind a single
// interface. Three adapters exist: a long-lived stream-json subprocess
// (claude), a per-message subprocess (gemini), and an HTTP streaming
// endpoint (lmstudio). Every adapter normalises its native output into
// the shared Event vocabulary so downstream code never branches on
// provider identity.
package provider

import (
	"context"
	"encoding/json"

	"github.com/barelyworkingcode/eve/internal/model"
)

// Emitter receives normalised events as an adapter produces them.
type Emitter func(Event)

// Provider is the uniform contract every adapter implements.
type Provider interface {
	// Start prepares whatever long-lived resource the adapter needs.
	// It is idempotent; adapters without a long-lived resource no-op.
	Start() error

	// Send delivers one user turn. Events stream back through the
	// emitter the adapter was constructed with. Send returns once the
	// turn has reached a terminal outcome (result, error, or process
	// exit).
	Send(ctx context.Context, text string, attachments []model.Attachment) error

	// HandleCommand gives the adapter first refusal on a slash command.
	HandleCommand(name, args string) CommandResult

	// Kill releases all resources. Safe to call repeatedly.
	Kill()

	// Snapshot serialises provider-specific continuation state.
	Snapshot() json.RawMessage

	// Restore rehydrates continuation state from a snapshot blob.
	// Unknown or stale blobs are ignored; the next turn simply starts a
	// fresh conversation.
	Restore(blob json.RawMessage)
}

// CommandOutcome tags the result of HandleCommand.
type CommandOutcome int

const (
	// CommandUnhandled means the adapter does not know the command.
	CommandUnhandled CommandOutcome = iota

	// CommandHandled means the adapter consumed the command; Reply
	// carries the user-visible response.
	CommandHandled

	// CommandTransfer means the session should hand control to a
	// terminal running the native CLI.
	CommandTransfer
)

// CommandResult is what HandleCommand returns.
type CommandResult struct {
	Outcome  CommandOutcome
	Reply    string
	Transfer *TransferSpec
}

// TransferSpec describes how to resume the conversation in the native
// CLI inside a terminal.
type TransferSpec struct {
	Command string
	Args    []string
}

// Unhandled is the zero CommandResult.
func Unhandled() CommandResult { return CommandResult{Outcome: CommandUnhandled} }

// Handled wraps a user-visible reply.
func Handled(reply string) CommandResult {
	return CommandResult{Outcome: CommandHandled, Reply: reply}
}

// ModelOption is one entry of the model catalogue shown to clients.
type ModelOption struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Group    string `json:"group"`
	Disabled bool   `json:"disabled,omitempty"`
}

// SlashCommand describes an adapter-specific command for /help.
type SlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
