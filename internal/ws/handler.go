package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/barelyworkingcode/eve/internal/auth"
	"github.com/barelyworkingcode/eve/internal/files"
	"github.com/barelyworkingcode/eve/internal/hook"
	"github.com/barelyworkingcode/eve/internal/model"
	"github.com/barelyworkingcode/eve/internal/session"
	"github.com/barelyworkingcode/eve/internal/store"
	"github.com/barelyworkingcode/eve/internal/term"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. File writes and
	// attachments ride the socket, so this is generous.
	maxMessageSize = 16 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Token auth is the access control; origin is not.
		return true
	},
}

// Handler upgrades connections and routes frames between clients and
// the session, terminal, file, and project services.
type Handler struct {
	hub      *Hub
	auth     auth.Authenticator
	sessions *session.Manager
	term     *term.Manager
	files    *files.Service
	projects *store.ProjectStore
	bridge   *hook.Bridge
}

// HandlerOptions wires the handler's collaborators.
type HandlerOptions struct {
	Hub       *Hub
	Auth      auth.Authenticator
	Sessions  *session.Manager
	Terminals *term.Manager
	Files     *files.Service
	Projects  *store.ProjectStore
	Bridge    *hook.Bridge
}

// NewHandler creates the handler and wires terminal output fan-out
// into the hub.
func NewHandler(opts HandlerOptions) *Handler {
	h := &Handler{
		hub:      opts.Hub,
		auth:     opts.Auth,
		sessions: opts.Sessions,
		term:     opts.Terminals,
		files:    opts.Files,
		projects: opts.Projects,
		bridge:   opts.Bridge,
	}
	if h.term != nil {
		h.term.OutputFn = func(termID, clientID string, data []byte) {
			if client := h.hub.Get(clientID); client != nil {
				client.Enqueue(session.F{
					"type":       "terminal_output",
					"terminalId": termID,
					"data":       string(data),
				})
			}
		}
		h.term.ExitFn = func(termID, clientID string, exitCode int) {
			if client := h.hub.Get(clientID); client != nil {
				client.Enqueue(session.F{
					"type":       "terminal_exit",
					"terminalId": termID,
					"exitCode":   exitCode,
				})
			}
		}
	}
	return h
}

// HandleConnection upgrades the HTTP request and serves the socket
// until the peer goes away.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	client := NewClient(uuid.New().String(), conn)
	h.hub.Register(client)

	go h.writePump(client)
	h.readPump(client, r)
}

func (h *Handler) readPump(c *Client, r *http.Request) {
	// Unregister closes the send channel; writePump drains what is
	// already queued and then closes the connection.
	defer func() {
		h.hub.Unregister(c)
		h.sessions.DetachClient(c.id)
		if h.term != nil {
			h.term.DetachClient(c.id)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read error: %v", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.Enqueue(session.F{"type": "error", "message": "malformed frame"})
			continue
		}

		if !c.Authed() {
			if !h.handleAuth(c, r, &frame) {
				return
			}
			continue
		}
		h.handleFrame(c, &frame)
	}
}

func (h *Handler) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain anything already queued.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleAuth services the mandatory first frame. It reports false when
// the connection must be dropped.
func (h *Handler) handleAuth(c *Client, r *http.Request, f *Frame) bool {
	if f.Type != FrameAuth {
		c.Enqueue(session.F{"type": "auth_failed", "error": "authentication required"})
		return false
	}

	local := h.auth.IsLocalhost(r)
	if !local && !h.auth.ValidateSession(f.Token) {
		c.Enqueue(session.F{"type": "auth_failed", "error": "invalid token"})
		return false
	}

	success := session.F{"type": "auth_success"}
	if local && !h.auth.IsEnrolled() {
		if enroller, ok := h.auth.(interface{ Enroll() (string, error) }); ok {
			token, err := enroller.Enroll()
			if err != nil {
				log.Printf("ws: enroll failed: %v", err)
			} else {
				success["token"] = token
			}
		}
	}
	c.setAuthed()
	c.Enqueue(success)
	return true
}

func (h *Handler) handleFrame(c *Client, f *Frame) {
	switch f.Type {
	case FrameCreateSession:
		_, err := h.sessions.Create(c, session.CreateOptions{
			ProjectID: f.ProjectID,
			Directory: f.Directory,
			Model:     f.Model,
			Name:      f.Name,
		})
		if err != nil {
			h.sendError(c, f.SessionID, err)
		}

	case FrameJoinSession:
		if _, err := h.sessions.Join(f.SessionID, c); err != nil {
			h.sendError(c, f.SessionID, err)
		}

	case FrameUserInput:
		if err := h.sessions.HandleUserInput(f.SessionID, f.Text, f.Attachments); err != nil {
			h.sendError(c, f.SessionID, err)
		}

	case FrameEndSession:
		if err := h.sessions.End(f.SessionID); err != nil {
			h.sendError(c, f.SessionID, err)
		}

	case FrameDeleteSession:
		if err := h.sessions.Delete(f.SessionID); err != nil {
			h.sendError(c, f.SessionID, err)
		}

	case FrameListDirectory, FrameReadFile, FrameWriteFile, FrameRenameFile,
		FrameMoveFile, FrameDeleteFile, FrameCreateDirectory:
		h.handleFileFrame(c, f)

	case FrameTerminalCreate, FrameTerminalInput, FrameTerminalResize,
		FrameTerminalClose, FrameTerminalList, FrameTerminalReconnect:
		h.handleTerminalFrame(c, f)

	case FrameListProjects:
		c.Enqueue(session.F{"type": "projects_list", "projects": h.projects.List()})

	case FrameCreateProject:
		project, err := h.projects.Create(f.Name, f.Path, f.Model)
		if err != nil {
			h.sendError(c, "", err)
			return
		}
		c.Enqueue(session.F{"type": "project_created", "project": project})

	case FrameDeleteProject:
		if err := h.projects.Delete(f.ProjectID); err != nil {
			h.sendError(c, "", err)
			return
		}
		c.Enqueue(session.F{"type": "project_deleted", "projectId": f.ProjectID})

	case FrameListModels:
		c.Enqueue(session.F{"type": "models_list", "models": h.sessions.ListModels()})

	case FramePermissionResponse:
		h.bridge.Resolve(f.ToolUseID, hook.Decision{
			Decision: f.Decision,
			Reason:   f.Reason,
		})

	default:
		c.Enqueue(session.F{"type": "error", "message": "unknown frame type: " + string(f.Type)})
	}
}

// fileRoot resolves the directory a file frame is confined to.
func (h *Handler) fileRoot(f *Frame) (string, error) {
	if f.ProjectID != "" {
		project, err := h.projects.Get(f.ProjectID)
		if err != nil {
			return "", err
		}
		return project.Path, nil
	}
	if f.SessionID != "" {
		sess, err := h.sessions.Get(f.SessionID)
		if err != nil {
			return "", err
		}
		return sess.Data().Directory, nil
	}
	return "", model.ErrProjectNotFound
}

func (h *Handler) handleFileFrame(c *Client, f *Frame) {
	root, err := h.fileRoot(f)
	if err != nil {
		h.sendFileError(c, f.Path, err)
		return
	}

	switch f.Type {
	case FrameListDirectory:
		entries, err := h.files.ListDirectory(root, f.Path)
		if err != nil {
			h.sendFileError(c, f.Path, err)
			return
		}
		c.Enqueue(session.F{"type": "directory_listing", "path": f.Path, "entries": entries})

	case FrameReadFile:
		data, err := h.files.ReadFile(root, f.Path)
		if err != nil {
			h.sendFileError(c, f.Path, err)
			return
		}
		c.Enqueue(session.F{"type": "file_content", "path": f.Path, "content": string(data)})

	case FrameWriteFile:
		if err := h.files.WriteFile(root, f.Path, []byte(f.Content)); err != nil {
			h.sendFileError(c, f.Path, err)
			return
		}
		c.Enqueue(session.F{"type": "file_saved", "path": f.Path})

	case FrameRenameFile:
		if err := h.files.RenameFile(root, f.Path, f.NewName); err != nil {
			h.sendFileError(c, f.Path, err)
			return
		}
		c.Enqueue(session.F{"type": "file_renamed", "path": f.Path, "newName": f.NewName})

	case FrameMoveFile:
		if err := h.files.MoveFile(root, f.Path, f.Destination); err != nil {
			h.sendFileError(c, f.Path, err)
			return
		}
		c.Enqueue(session.F{"type": "file_moved", "path": f.Path, "destination": f.Destination})

	case FrameDeleteFile:
		if err := h.files.DeleteFile(root, f.Path); err != nil {
			h.sendFileError(c, f.Path, err)
			return
		}
		c.Enqueue(session.F{"type": "file_deleted", "path": f.Path})

	case FrameCreateDirectory:
		if err := h.files.CreateDirectory(root, f.Path); err != nil {
			h.sendFileError(c, f.Path, err)
			return
		}
		c.Enqueue(session.F{"type": "directory_created", "path": f.Path})
	}
}

func (h *Handler) handleTerminalFrame(c *Client, f *Frame) {
	switch f.Type {
	case FrameTerminalCreate:
		t, err := h.term.Create(term.CreateOptions{
			Command:  f.Command,
			Args:     f.Args,
			Dir:      f.Directory,
			Rows:     f.Rows,
			Cols:     f.Cols,
			ClientID: c.id,
		})
		if err != nil {
			h.sendError(c, "", err)
			return
		}
		c.Enqueue(session.F{
			"type":       "terminal_created",
			"terminalId": t.ID,
			"command":    t.Command,
			"directory":  t.Dir,
		})

	case FrameTerminalInput:
		if err := h.term.Input(f.TerminalID, []byte(f.Data)); err != nil {
			h.sendError(c, "", err)
		}

	case FrameTerminalResize:
		if err := h.term.Resize(f.TerminalID, f.Rows, f.Cols); err != nil {
			h.sendError(c, "", err)
		}

	case FrameTerminalClose:
		if err := h.term.Close(f.TerminalID); err != nil {
			h.sendError(c, "", err)
			return
		}
		c.Enqueue(session.F{"type": "terminal_list", "terminals": h.term.List()})

	case FrameTerminalList:
		c.Enqueue(session.F{"type": "terminal_list", "terminals": h.term.List()})

	case FrameTerminalReconnect:
		scrollback, exited, exitCode, err := h.term.Reconnect(f.TerminalID, c.id)
		if err != nil {
			h.sendError(c, "", err)
			return
		}
		c.Enqueue(session.F{
			"type":       "terminal_output",
			"terminalId": f.TerminalID,
			"data":       string(scrollback),
		})
		if exited {
			c.Enqueue(session.F{
				"type":       "terminal_exit",
				"terminalId": f.TerminalID,
				"exitCode":   exitCode,
			})
		}
	}
}

func (h *Handler) sendError(c *Client, sessionID string, err error) {
	frame := session.F{"type": "error", "message": err.Error()}
	if sessionID != "" {
		frame["sessionId"] = sessionID
	}
	c.Enqueue(frame)
}

func (h *Handler) sendFileError(c *Client, path string, err error) {
	c.Enqueue(session.F{"type": "file_error", "path": path, "error": err.Error()})
}
