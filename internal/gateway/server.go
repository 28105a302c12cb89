// Package gateway implements the wire protocol (spec §6): a WebSocket
// connection per (user, session), inbound {command, args} JSON, outbound
// raw text fragments or {result}/{error}/{stdin_request}/{returned_file}
// frames.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agentd/internal/orchestrator"
	"agentd/internal/sandbox"
	"agentd/internal/sessions"
	"agentd/internal/shell"
	"agentd/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the WebSocket session gateway.
type Server struct {
	Engine    *orchestrator.Engine
	Store     sessions.Store
	Sandboxes *sandbox.Registry
	Processes *shell.ProcessRegistry // backgrounded vm_execute bookkeeping
	UploadDir string
}

// inbound is one {command, args} frame from the client.
type inbound struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

// ServeHTTP upgrades the connection and runs the per-connection loop until
// the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	user := firstNonEmpty(r.URL.Query().Get("user"), "default")
	sessionName := firstNonEmpty(r.URL.Query().Get("session"), "default")

	ctx := r.Context()
	u, err := s.Store.UpsertUser(ctx, user)
	if err != nil {
		writeJSON(conn, frame{Error: err.Error()})
		return
	}
	row, err := s.Store.UpsertSession(ctx, u.ID, sessionName)
	if err != nil {
		writeJSON(conn, frame{Error: err.Error()})
		return
	}

	sess, existed := s.Engine.Session(row.ID)
	if !existed {
		sess = orchestrator.NewSession(u.ID, row.ID)
		s.Engine.Start(context.Background(), sess)
	}

	out := make(chan outboundFrame, 64)
	done := make(chan struct{})
	go s.sender(conn, out, done)
	defer func() { close(out); <-done }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(ctx, sess, data, out)
	}
}

type outboundFrame struct {
	text  string // non-empty: send as a raw text frame
	frame *frame // non-nil: send as JSON
}

func (s *Server) sender(conn *websocket.Conn, out <-chan outboundFrame, done chan<- struct{}) {
	defer close(done)
	for f := range out {
		if f.frame != nil {
			if err := conn.WriteJSON(f.frame); err != nil {
				return
			}
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f.text)); err != nil {
			return
		}
	}
}

// frame is the outbound JSON envelope shape (spec §6): exactly one field
// set per message.
type frame struct {
	Result       any    `json:"result,omitempty"`
	Error        string `json:"error,omitempty"`
	StdinRequest string `json:"stdin_request,omitempty"`
	ReturnedFile string `json:"returned_file,omitempty"`
	Data         string `json:"data,omitempty"`
}

func writeJSON(conn *websocket.Conn, f frame) { _ = conn.WriteJSON(f) }

func (s *Server) dispatch(ctx context.Context, sess *orchestrator.Session, raw []byte, out chan<- outboundFrame) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		// Bare prompt text, per the original wire behavior: treat the whole
		// payload as a chat prompt.
		in = inbound{Command: "chat", Args: mustRawArgs(map[string]string{"prompt": string(raw)})}
	}
	if in.Command == "" {
		in.Command = "chat"
	}

	switch in.Command {
	case "team_chat", "chat":
		s.handleChat(ctx, sess, in.Args, out)
	case "upload_document":
		s.handleUpload(ctx, sess, in.Args, out)
	case "vm_execute":
		s.handleVMExecute(ctx, sess, in.Args, out)
	case "vm_execute_status":
		s.handleVMExecuteStatus(ctx, sess, in.Args, out)
	case "list_dir", "read_file", "write_file", "delete_path", "download_file":
		s.handleFileOp(ctx, sess, in.Command, in.Args, out)
	case "send_notification":
		s.handleSendNotification(ctx, sess, in.Args, out)
	case "list_sessions", "list_sessions_info":
		s.handleListSessions(ctx, sess, out)
	case "list_documents":
		s.handleListDocuments(ctx, sess, out)
	case "get_memory":
		s.handleGetMemory(ctx, sess, out)
	case "set_memory":
		s.handleSetMemory(ctx, sess, in.Args, out)
	case "reset_memory":
		s.handleResetMemory(ctx, sess, out)
	case "restart_terminal":
		s.handleRestartTerminal(ctx, sess, out)
	default:
		out <- outboundFrame{frame: &frame{Error: fmt.Sprintf("unknown command: %s", in.Command)}}
	}
}

func (s *Server) handleChat(ctx context.Context, sess *orchestrator.Session, raw json.RawMessage, out chan<- outboundFrame) {
	var args struct {
		Prompt string `json:"prompt"`
		Extra  string `json:"extra"`
	}
	_ = json.Unmarshal(raw, &args)
	prompt := args.Prompt
	if args.Extra != "" {
		prompt = prompt + "\n" + args.Extra
	}

	events := sess.Submit(prompt)
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventTextChunk:
			out <- outboundFrame{text: ev.Text}
		case orchestrator.EventStdinRequest:
			out <- outboundFrame{frame: &frame{StdinRequest: ev.Prompt}}
		case orchestrator.EventReturnedFile:
			out <- outboundFrame{frame: &frame{ReturnedFile: ev.FileName, Data: base64.StdEncoding.EncodeToString(ev.FileData)}}
		case orchestrator.EventResultEnvelope:
			out <- outboundFrame{frame: &frame{Result: ev.Result}}
		case orchestrator.EventError:
			out <- outboundFrame{frame: &frame{Error: ev.Err.Error()}}
		}
	}
}

func (s *Server) handleUpload(ctx context.Context, sess *orchestrator.Session, raw json.RawMessage, out chan<- outboundFrame) {
	var args struct {
		FileName string `json:"file_name"`
		FileData string `json:"file_data"`
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}

	userDir := filepath.Join(s.UploadDir, sanitizeUser(sess.UserID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}

	var name string
	var data []byte
	if args.FilePath != "" {
		b, err := os.ReadFile(args.FilePath)
		if err != nil {
			out <- outboundFrame{frame: &frame{Error: err.Error()}}
			return
		}
		name, data = filepath.Base(args.FilePath), b
	} else {
		b, err := base64.StdEncoding.DecodeString(args.FileData)
		if err != nil {
			out <- outboundFrame{frame: &frame{Error: err.Error()}}
			return
		}
		name, data = args.FileName, b
	}
	if name == "" {
		out <- outboundFrame{frame: &frame{Error: "file name is required"}}
		return
	}

	dest := filepath.Join(userDir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	_ = s.Store.CreateDocument(ctx, &models.Document{UserID: sess.UserID, HostPath: dest, Name: name})
	out <- outboundFrame{frame: &frame{Result: "/data/" + name}}
}

func (s *Server) handleVMExecute(ctx context.Context, sess *orchestrator.Session, raw json.RawMessage, out chan<- outboundFrame) {
	var args struct {
		Command    string `json:"command"`
		Timeout    int    `json:"timeout"`
		Background bool   `json:"background"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	driver, err := s.ensureSandbox(ctx, sess)
	if err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	timeout := time.Duration(args.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	if args.Background && s.Processes != nil {
		out <- outboundFrame{frame: &frame{Result: s.startBackgroundExec(driver, sess, args.Command, timeout)}}
		return
	}

	result, err := driver.Execute(ctx, args.Command, timeout, "")
	if err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	out <- outboundFrame{frame: &frame{Result: result.Transcript}}
}

// startBackgroundExec detaches cmd into its own goroutine, tracked in the
// process registry so a later vm_execute_status can poll for its outcome
// (spec §6's vm_execute "background" mode).
func (s *Server) startBackgroundExec(driver sandbox.Driver, sess *orchestrator.Session, cmd string, timeout time.Duration) string {
	id := uuid.NewString()
	ps := &shell.ProcessSession{
		ID:         id,
		Command:    cmd,
		ScopeKey:   sess.UserID,
		SessionKey: sess.SessionID,
		StartedAt:  time.Now(),
	}
	s.Processes.AddSession(ps)
	s.Processes.MarkBackgrounded(ps)

	go func() {
		result, err := driver.Execute(context.Background(), cmd, timeout, "")
		status := shell.ProcessStatusCompleted
		exitCode := 0
		if err != nil {
			status = shell.ProcessStatusFailed
			s.Processes.AppendOutput(ps, "stderr", err.Error())
		} else {
			exitCode = result.ExitCode
			s.Processes.AppendOutput(ps, "stdout", result.Transcript)
			if result.TimedOut {
				status = shell.ProcessStatusKilled
			} else if exitCode != 0 {
				status = shell.ProcessStatusFailed
			}
		}
		s.Processes.MarkExited(ps, &exitCode, "", status)
	}()

	return id
}

func (s *Server) handleVMExecuteStatus(ctx context.Context, sess *orchestrator.Session, raw json.RawMessage, out chan<- outboundFrame) {
	var args struct {
		ProcessID string `json:"process_id"`
	}
	_ = json.Unmarshal(raw, &args)
	if s.Processes == nil {
		out <- outboundFrame{frame: &frame{Error: "background execution is not enabled"}}
		return
	}

	if running, ok := s.Processes.GetSession(args.ProcessID); ok {
		stdout, stderr := s.Processes.DrainSession(running)
		out <- outboundFrame{frame: &frame{Result: map[string]any{
			"status": shell.ProcessStatusRunning,
			"stdout": stdout,
			"stderr": stderr,
		}}}
		return
	}
	if finished, ok := s.Processes.GetFinishedSession(args.ProcessID); ok {
		out <- outboundFrame{frame: &frame{Result: map[string]any{
			"status":    finished.Status,
			"output":    finished.Aggregated,
			"exit_code": finished.ExitCode,
		}}}
		return
	}
	out <- outboundFrame{frame: &frame{Error: fmt.Sprintf("no such process: %s", args.ProcessID)}}
}

func (s *Server) handleFileOp(ctx context.Context, sess *orchestrator.Session, cmd string, raw json.RawMessage, out chan<- outboundFrame) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	driver, err := s.ensureSandbox(ctx, sess)
	if err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}

	switch cmd {
	case "list_dir":
		res, err := driver.Execute(ctx, fmt.Sprintf("ls -la %s", shellQuote(args.Path)), 30*time.Second, "")
		deliverExecResult(out, res, err)
	case "read_file":
		res, err := driver.Execute(ctx, fmt.Sprintf("cat %s", shellQuote(args.Path)), 30*time.Second, "")
		deliverExecResult(out, res, err)
	case "delete_path":
		res, err := driver.Execute(ctx, fmt.Sprintf("rm -rf %s", shellQuote(args.Path)), 30*time.Second, "")
		deliverExecResult(out, res, err)
	case "write_file":
		tmp, err := os.CreateTemp("", "agentd-upload-*")
		if err != nil {
			out <- outboundFrame{frame: &frame{Error: err.Error()}}
			return
		}
		defer os.Remove(tmp.Name())
		_, _ = tmp.WriteString(args.Content)
		_ = tmp.Close()
		if err := driver.CopyTo(ctx, tmp.Name(), args.Path); err != nil {
			out <- outboundFrame{frame: &frame{Error: err.Error()}}
			return
		}
		out <- outboundFrame{frame: &frame{Result: "ok"}}
	case "download_file":
		tmp, err := os.CreateTemp("", "agentd-download-*")
		if err != nil {
			out <- outboundFrame{frame: &frame{Error: err.Error()}}
			return
		}
		defer os.Remove(tmp.Name())
		_ = tmp.Close()
		if err := driver.CopyFrom(ctx, args.Path, tmp.Name()); err != nil {
			out <- outboundFrame{frame: &frame{Error: err.Error()}}
			return
		}
		data, err := os.ReadFile(tmp.Name())
		if err != nil {
			out <- outboundFrame{frame: &frame{Error: err.Error()}}
			return
		}
		out <- outboundFrame{frame: &frame{Result: base64.StdEncoding.EncodeToString(data)}}
	}
}

func deliverExecResult(out chan<- outboundFrame, res *sandbox.ExecOutput, err error) {
	if err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	out <- outboundFrame{frame: &frame{Result: res.Transcript}}
}

func (s *Server) handleSendNotification(ctx context.Context, sess *orchestrator.Session, raw json.RawMessage, out chan<- outboundFrame) {
	var args struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &args)
	driver, err := s.ensureSandbox(ctx, sess)
	if err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	q, err := sandbox.NewNotificationQueue(driver.NotificationsDir())
	if err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	if err := q.Post(args.Message); err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	out <- outboundFrame{frame: &frame{Result: "ok"}}
}

func (s *Server) handleListSessions(ctx context.Context, sess *orchestrator.Session, out chan<- outboundFrame) {
	list, err := s.Store.ListSessions(ctx, sess.UserID)
	if err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	names := make([]string, 0, len(list))
	for _, row := range list {
		names = append(names, row.Name)
	}
	out <- outboundFrame{frame: &frame{Result: names}}
}

func (s *Server) handleListDocuments(ctx context.Context, sess *orchestrator.Session, out chan<- outboundFrame) {
	docs, err := s.Store.ListDocuments(ctx, sess.UserID)
	if err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	out <- outboundFrame{frame: &frame{Result: names}}
}

func (s *Server) handleGetMemory(ctx context.Context, sess *orchestrator.Session, out chan<- outboundFrame) {
	m, err := s.Store.GetMemory(ctx, sess.UserID)
	if err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	out <- outboundFrame{frame: &frame{Result: m}}
}

func (s *Server) handleSetMemory(ctx context.Context, sess *orchestrator.Session, raw json.RawMessage, out chan<- outboundFrame) {
	var args struct {
		Memory string `json:"memory"`
	}
	_ = json.Unmarshal(raw, &args)
	if err := s.Store.SetMemory(ctx, sess.UserID, args.Memory); err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	out <- outboundFrame{frame: &frame{Result: "ok"}}
}

func (s *Server) handleResetMemory(ctx context.Context, sess *orchestrator.Session, out chan<- outboundFrame) {
	if err := s.Store.SetMemory(ctx, sess.UserID, "{}"); err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	out <- outboundFrame{frame: &frame{Result: "ok"}}
}

func (s *Server) handleRestartTerminal(ctx context.Context, sess *orchestrator.Session, out chan<- outboundFrame) {
	driver, err := s.ensureSandbox(ctx, sess)
	if err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	if err := driver.Restart(ctx, true); err != nil {
		out <- outboundFrame{frame: &frame{Error: err.Error()}}
		return
	}
	out <- outboundFrame{frame: &frame{Result: "restarted"}}
}

// ensureSandbox acquires (creating if needed) this session's sandbox and
// attaches it to the live Session so subsequent tool calls and helper
// agents reuse the same driver instance.
func (s *Server) ensureSandbox(ctx context.Context, sess *orchestrator.Session) (sandbox.Driver, error) {
	if sess.Sandbox != nil {
		return sess.Sandbox, nil
	}
	driver, err := s.Sandboxes.Acquire(ctx, sandbox.Key{User: sess.UserID, Session: sess.SessionID})
	if err != nil {
		return nil, err
	}
	sess.Sandbox = driver
	return driver, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sanitizeUser(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func mustRawArgs(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
