package ws

import (
	"github.com/barelyworkingcode/eve/internal/model"
)

// FrameType tags every message crossing the websocket.
type FrameType string

// Client -> server frame types.
const (
	FrameAuth          FrameType = "auth"
	FrameCreateSession FrameType = "create_session"
	FrameJoinSession   FrameType = "join_session"
	FrameUserInput     FrameType = "user_input"
	FrameEndSession    FrameType = "end_session"
	FrameDeleteSession FrameType = "delete_session"

	FrameListDirectory   FrameType = "list_directory"
	FrameReadFile        FrameType = "read_file"
	FrameWriteFile       FrameType = "write_file"
	FrameRenameFile      FrameType = "rename_file"
	FrameMoveFile        FrameType = "move_file"
	FrameDeleteFile      FrameType = "delete_file"
	FrameCreateDirectory FrameType = "create_directory"

	FrameTerminalCreate    FrameType = "terminal_create"
	FrameTerminalInput     FrameType = "terminal_input"
	FrameTerminalResize    FrameType = "terminal_resize"
	FrameTerminalClose     FrameType = "terminal_close"
	FrameTerminalList      FrameType = "terminal_list"
	FrameTerminalReconnect FrameType = "terminal_reconnect"

	FrameListProjects  FrameType = "list_projects"
	FrameCreateProject FrameType = "create_project"
	FrameDeleteProject FrameType = "delete_project"

	FrameListModels         FrameType = "list_models"
	FramePermissionResponse FrameType = "permission_response"
)

// Frame is the decoded client -> server message. Only the fields for
// the tagged type are meaningful.
type Frame struct {
	Type FrameType `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// sessions
	SessionID   string             `json:"sessionId,omitempty"`
	ProjectID   string             `json:"projectId,omitempty"`
	Directory   string             `json:"directory,omitempty"`
	Model       string             `json:"model,omitempty"`
	Name        string             `json:"name,omitempty"`
	Text        string             `json:"text,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`

	// files
	Path        string `json:"path,omitempty"`
	NewName     string `json:"newName,omitempty"`
	Destination string `json:"destination,omitempty"`
	Content     string `json:"content,omitempty"`

	// terminals
	TerminalID string   `json:"terminalId,omitempty"`
	Command    string   `json:"command,omitempty"`
	Args       []string `json:"args,omitempty"`
	Data       string   `json:"data,omitempty"`
	Rows       uint16   `json:"rows,omitempty"`
	Cols       uint16   `json:"cols,omitempty"`

	// permission responses
	ToolUseID string `json:"toolUseId,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
