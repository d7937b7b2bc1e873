// Package sandboxtest runs in-process fakes of the execution sandbox and
// the project storage service.
package sandboxtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/deniskipeles/swalang-sandbox/pkg/models"
	"github.com/deniskipeles/swalang-sandbox/pkg/protocol"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// OutputFunc produces the stream messages for one run from the files the
// session has received.
type OutputFunc func(files map[string]string) []protocol.StreamMessage

// Echo streams each line of main.sw as stdout. Lines starting with
// "err:" go to stderr instead.
func Echo(files map[string]string) []protocol.StreamMessage {
	main, ok := files["main.sw"]
	if !ok {
		return []protocol.StreamMessage{{Type: protocol.TypeError, Content: "Failed to retrieve code from session: main.sw not found"}}
	}
	var out []protocol.StreamMessage
	for _, line := range strings.Split(strings.TrimRight(main, "\n"), "\n") {
		if rest, ok := strings.CutPrefix(line, "err:"); ok {
			out = append(out, protocol.StreamMessage{Type: protocol.TypeStderr, Content: rest})
			continue
		}
		out = append(out, protocol.StreamMessage{Type: protocol.TypeStdout, Content: line})
	}
	return out
}

type session struct {
	files map[string]string
	order []string

	wmu  sync.Mutex
	conn *websocket.Conn
}

func (s *session) write(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("no stream")
	}
	return s.conn.WriteJSON(v)
}

func (s *session) writeRaw(data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("no stream")
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Sandbox is a fake execution sandbox.
type Sandbox struct {
	Server *httptest.Server

	mu             sync.Mutex
	sessions       map[string]*session
	nextID         int
	failSessions   int
	sessionCalls   int
	uploadFailures map[string]int
	uploadCalls    int
	runs           int
	output         OutputFunc
	sentinel       bool
	connected      chan string
}

// NewSandbox starts a fake sandbox that is closed with the test.
func NewSandbox(t testing.TB) *Sandbox {
	s := &Sandbox{
		sessions:       make(map[string]*session),
		uploadFailures: make(map[string]int),
		output:         Echo,
		connected:      make(chan string, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/new", s.handleNewSession)
	mux.HandleFunc("POST /api/session/{id}/files", s.handleUpload)
	mux.HandleFunc("GET /api/session/{id}/ws", s.handleStream)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// URL is the sandbox base URL.
func (s *Sandbox) URL() string { return s.Server.URL }

// FailSessions makes the next n session requests fail with 503.
func (s *Sandbox) FailSessions(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSessions = n
}

// FailUpload makes uploads of path fail with the given status.
func (s *Sandbox) FailUpload(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadFailures[path] = status
}

// SetOutput replaces the run output producer.
func (s *Sandbox) SetOutput(fn OutputFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = fn
}

// SendSentinel makes every run end with an exit message.
func (s *Sandbox) SendSentinel(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentinel = on
}

// SessionCalls reports how many session requests were received.
func (s *Sandbox) SessionCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionCalls
}

// UploadCalls reports how many upload requests were received.
func (s *Sandbox) UploadCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadCalls
}

// Runs reports how many run commands were received.
func (s *Sandbox) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Files returns the files a session has received.
func (s *Sandbox) Files(sessionID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(sess.files))
	for k, v := range sess.files {
		out[k] = v
	}
	return out
}

// Connected yields the id of each session whose stream opens.
func (s *Sandbox) Connected() <-chan string { return s.connected }

// Push writes a raw frame to a session's stream.
func (s *Sandbox) Push(sessionID string, data []byte) error {
	sess := s.session(sessionID)
	if sess == nil {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	return sess.writeRaw(data)
}

// Disconnect closes a session's stream from the server side.
func (s *Sandbox) Disconnect(sessionID string) {
	sess := s.session(sessionID)
	if sess == nil {
		return
	}
	sess.wmu.Lock()
	defer sess.wmu.Unlock()
	if sess.conn != nil {
		_ = sess.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = sess.conn.Close()
	}
}

// Close shuts the server down.
func (s *Sandbox) Close() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.wmu.Lock()
		if sess.conn != nil {
			_ = sess.conn.Close()
		}
		sess.wmu.Unlock()
	}
	s.Server.CloseClientConnections()
	s.Server.Close()
}

func (s *Sandbox) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Sandbox) handleNewSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.sessionCalls++
	if s.failSessions > 0 {
		s.failSessions--
		s.mu.Unlock()
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
		return
	}
	s.nextID++
	id := fmt.Sprintf("sess-%d", s.nextID)
	s.sessions[id] = &session{files: make(map[string]string)}
	s.mu.Unlock()

	wsURL := "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/api/session/" + id + "/ws"
	writeJSON(w, http.StatusOK, protocol.SessionResponse{SessionID: id, WSURL: wsURL})
}

func (s *Sandbox) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req models.UploadFile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadCalls++
	sess, ok := s.sessions[id]
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if code, fail := s.uploadFailures[req.Path]; fail {
		http.Error(w, "disk quota exceeded", code)
		return
	}
	if _, seen := sess.files[req.Path]; !seen {
		sess.order = append(sess.order, req.Path)
	}
	sess.files[req.Path] = req.Content
	w.WriteHeader(http.StatusCreated)
}

func (s *Sandbox) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess := s.session(id)
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess.wmu.Lock()
	sess.conn = conn
	sess.wmu.Unlock()
	defer func() {
		sess.wmu.Lock()
		sess.conn = nil
		sess.wmu.Unlock()
		conn.Close()
	}()

	select {
	case s.connected <- id:
	default:
	}

	for {
		var cmd protocol.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.Action != protocol.ActionRun {
			continue
		}

		s.mu.Lock()
		s.runs++
		output, sentinel := s.output, s.sentinel
		files := make(map[string]string, len(sess.files))
		for k, v := range sess.files {
			files[k] = v
		}
		s.mu.Unlock()

		for _, msg := range output(files) {
			if err := sess.write(msg); err != nil {
				return
			}
		}
		if sentinel {
			if err := sess.write(protocol.StreamMessage{Type: protocol.TypeExit, Content: "0"}); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
