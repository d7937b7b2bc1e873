package sandboxtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/deniskipeles/swalang-sandbox/pkg/models"
	"github.com/deniskipeles/swalang-sandbox/pkg/protocol"
	"github.com/deniskipeles/swalang-sandbox/pkg/reconcile"
)

type snapshot struct {
	strategy string
	tree     models.Nodes
	entries  []models.FlatEntry
	files    map[string]string
	size     int64
}

// Storage is a fake project storage service. Every save creates a new
// numbered version; GET without a version returns the latest.
type Storage struct {
	Server *httptest.Server

	mu            sync.Mutex
	projects      map[string][]*snapshot
	contentCalls  int
	saves         int
	failContent   map[string]int
	hold          chan struct{}
	splitOnSave   bool
	lastSaveTrees []models.Nodes
}

// NewStorage starts a fake storage service that is closed with the test.
func NewStorage(t testing.TB) *Storage {
	s := &Storage{
		projects:    make(map[string][]*snapshot),
		failContent: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/projects/{id}", s.handleGet)
	mux.HandleFunc("POST /api/projects/{id}", s.handleSave)
	mux.HandleFunc("GET /api/projects/{id}/files/{path...}", s.handleContent)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Server.Close)
	return s
}

// URL is the storage base URL.
func (s *Storage) URL() string { return s.Server.URL }

// PutFat stores a new fat version of a project.
func (s *Storage) PutFat(id string, nodes models.Nodes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[id] = append(s.projects[id], fatSnapshot(nodes))
}

// PutSplit stores a new split version of a project.
func (s *Storage) PutSplit(id string, entries []models.FlatEntry, files map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var size int64
	for _, c := range files {
		size += int64(len(c))
	}
	s.projects[id] = append(s.projects[id], &snapshot{
		strategy: protocol.StrategySplit,
		entries:  entries,
		files:    files,
		size:     size,
	})
}

// StoreSavesAsSplit makes saves produce split versions.
func (s *Storage) StoreSavesAsSplit(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splitOnSave = on
}

// FailContent makes content fetches of path fail with status.
func (s *Storage) FailContent(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failContent[path] = status
}

// HoldContent makes content fetches block until release is called.
// Fetches are counted before they block.
func (s *Storage) HoldContent() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.hold = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.hold = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// ContentCalls reports how many content fetches were received.
func (s *Storage) ContentCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentCalls
}

// Saves reports how many saves were received.
func (s *Storage) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// LastSaved returns the tree of the most recent save.
func (s *Storage) LastSaved() models.Nodes {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lastSaveTrees) == 0 {
		return nil
	}
	return s.lastSaveTrees[len(s.lastSaveTrees)-1]
}

func fatSnapshot(nodes models.Nodes) *snapshot {
	data, _ := json.Marshal(nodes)
	return &snapshot{strategy: protocol.StrategyFat, tree: nodes, size: int64(len(data))}
}

// lookup returns the requested version, 1-based, or the latest.
func (s *Storage) lookup(id, version string) (*snapshot, int, bool) {
	versions := s.projects[id]
	if len(versions) == 0 {
		return nil, 0, false
	}
	if version == "" {
		return versions[len(versions)-1], len(versions), true
	}
	n, err := strconv.Atoi(version)
	if err != nil || n < 1 || n > len(versions) {
		return nil, 0, false
	}
	return versions[n-1], n, true
}

func (s *Storage) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snap, version, ok := s.lookup(r.PathValue("id"), r.URL.Query().Get("version"))
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "project not found", Code: http.StatusNotFound})
		return
	}

	resp := protocol.ProjectResponse{
		Strategy: snap.strategy,
		Size:     snap.size,
		Version:  protocol.Version(strconv.Itoa(version)),
	}
	if snap.strategy == protocol.StrategyFat {
		resp.Tree = snap.tree
	} else {
		resp.Files = snap.entries
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Storage) handleContent(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	s.mu.Lock()
	s.contentCalls++
	code, fail := s.failContent[path]
	snap, _, ok := s.lookup(r.PathValue("id"), r.URL.Query().Get("version"))
	hold := s.hold
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	if fail {
		http.Error(w, "storage unavailable", code)
		return
	}
	if !ok || snap.strategy != protocol.StrategySplit {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	body, ok := snap.files[path]
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, body)
}

func (s *Storage) handleSave(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req protocol.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid tree"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var snap *snapshot
	if s.splitOnSave {
		files := make(map[string]string)
		var size int64
		for _, f := range reconcile.FlattenForUpload(req.Tree, nil) {
			files[f.Path] = f.Content
			size += int64(len(f.Content))
		}
		snap = &snapshot{
			strategy: protocol.StrategySplit,
			entries:  reconcile.FlattenEntries(req.Tree),
			files:    files,
			size:     size,
		}
	} else {
		snap = fatSnapshot(req.Tree)
	}

	s.saves++
	s.lastSaveTrees = append(s.lastSaveTrees, req.Tree)
	s.projects[id] = append(s.projects[id], snap)
	writeJSON(w, http.StatusOK, protocol.SaveResponse{
		Version: protocol.Version(strconv.Itoa(len(s.projects[id]))),
		Size:    snap.size,
	})
}
