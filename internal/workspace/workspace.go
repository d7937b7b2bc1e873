// Package workspace owns the editing state of one open project: the file
// tree, file contents with their open and dirty sets, the selection, the
// console and the sandbox session. A Workspace is created when a project
// is opened and closed when the user navigates away.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deniskipeles/swalang-sandbox/internal/console"
	"github.com/deniskipeles/swalang-sandbox/internal/logging"
	"github.com/deniskipeles/swalang-sandbox/internal/metrics"
	"github.com/deniskipeles/swalang-sandbox/internal/transcript"
	"github.com/deniskipeles/swalang-sandbox/pkg/cache"
	"github.com/deniskipeles/swalang-sandbox/pkg/client"
	"github.com/deniskipeles/swalang-sandbox/pkg/content"
	"github.com/deniskipeles/swalang-sandbox/pkg/models"
	"github.com/deniskipeles/swalang-sandbox/pkg/reconcile"
	"github.com/deniskipeles/swalang-sandbox/pkg/sandbox"
	"github.com/deniskipeles/swalang-sandbox/pkg/tree"
)

// Console lines shown to the user.
const (
	lineConnecting    = "Connecting to execution server..."
	lineConnected     = "Connected to execution server."
	lineDisconnected  = "Disconnected from execution server."
	lineStreamError   = "WebSocket connection error."
	lineNotConnected  = "Error: Not connected to execution server. Please wait or refresh."
	lineUploading     = "Uploading files..."
	lineUploaded      = "Files uploaded successfully."
	lineExecuting     = "Executing code..."
	lineSaving        = "Saving project..."
	lineSaved         = "Project saved successfully!"
	loadErrorContent  = "// Error loading file"
	defaultFileName   = "untitled.txt"
	defaultFolderName = "New Folder"
)

// ErrInvalidName is returned for names rejected before any change is made.
var ErrInvalidName = errors.New("invalid name")

// prefetchLimit bounds concurrent content fetches when materializing a
// lazily loaded project.
const prefetchLimit = 8

// Config configures a workspace.
type Config struct {
	ProjectID string
	// Version pins the snapshot to load. Empty loads the latest.
	Version string

	Storage *client.Client
	Sandbox sandbox.Config
	// Cache holds version-pinned file content. Optional.
	Cache *cache.Cache
	// Transcripts records console lines per session. Optional.
	Transcripts *transcript.Store
}

// Workspace is the session-scoped editing context of one project.
type Workspace struct {
	projectID   string
	storage     *client.Client
	fetcher     content.Fetcher
	sandboxCfg  sandbox.Config
	transcripts *transcript.Store

	console *console.Console
	welcome string
	store   *content.Store

	mu          sync.Mutex
	tree        *tree.Tree
	strategy    string
	lazy        bool
	version     string
	size        int64
	remotePaths map[string]string
	active      string
	selected    string
	renaming    string

	sess        *sandbox.Client
	connectDone chan struct{}
	connectErr  error
	pumpDone    chan struct{}
	processed   uint64
	progress    chan struct{}
	unsubscribe func()
	closed      bool
}

// Open loads a project from storage and returns its workspace.
func Open(ctx context.Context, cfg Config) (*Workspace, error) {
	if cfg.Storage == nil {
		return nil, errors.New("workspace: storage client is required")
	}
	resp, err := cfg.Storage.FetchProject(ctx, cfg.ProjectID, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", cfg.ProjectID, err)
	}
	snap, err := reconcile.Decode(resp)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", cfg.ProjectID, err)
	}

	t := tree.New(snap.Nodes)
	w := &Workspace{
		projectID:   cfg.ProjectID,
		storage:     cfg.Storage,
		fetcher:     content.Cached(cfg.Storage.Fetcher(cfg.ProjectID), cfg.Cache, cfg.ProjectID),
		sandboxCfg:  cfg.Sandbox,
		transcripts: cfg.Transcripts,
		console:     console.New(),
		welcome:     fmt.Sprintf("Project %s loaded.", cfg.ProjectID),
		store:       content.New(t),
		tree:        t,
		strategy:    snap.Strategy,
		lazy:        snap.Lazy,
		version:     snap.Version,
		size:        snap.Size,
		remotePaths: snap.RemotePaths,
		progress:    make(chan struct{}),
	}
	if w.remotePaths == nil {
		w.remotePaths = make(map[string]string)
	}
	w.console.Append(w.welcome)

	logging.Info("project opened",
		zap.String("project", cfg.ProjectID),
		zap.String("strategy", snap.Strategy),
		zap.String("version", snap.Version),
		zap.Int("nodes", t.Count()))
	return w, nil
}

// ProjectID returns the id of the open project.
func (w *Workspace) ProjectID() string { return w.projectID }

// Console returns the workspace console.
func (w *Workspace) Console() *console.Console { return w.console }

// Nodes returns the top-level node list. Callers must not mutate it.
func (w *Workspace) Nodes() models.Nodes {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tree.Nodes
}

// Strategy returns the storage strategy the project was loaded with.
func (w *Workspace) Strategy() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.strategy
}

// Version returns the snapshot version last loaded or saved.
func (w *Workspace) Version() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

// Size returns the size reported by storage for the current version.
func (w *Workspace) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Find returns the node with id, or nil.
func (w *Workspace) Find(id string) models.Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tree.FindByID(id)
}

// FindPath returns the node at path, or nil.
func (w *Workspace) FindPath(path string) models.Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tree.FindByPath(path)
}

// PathOf returns the current path of a node.
func (w *Workspace) PathOf(id string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tree.PathOf(id)
}

// Active returns the id of the active tab, or "".
func (w *Workspace) Active() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Selected returns the id of the selected node, or "".
func (w *Workspace) Selected() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selected
}

// Renaming returns the id of the node in rename mode, or "".
func (w *Workspace) Renaming() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.renaming
}

// OpenTabs returns the ids of open files in the order they were opened.
func (w *Workspace) OpenTabs() []string { return w.store.OpenIDs() }

// Dirty returns the ids of open files with unsaved edits.
func (w *Workspace) Dirty() []string { return w.store.DirtyIDs() }

// IsDirty reports whether id has unsaved edits.
func (w *Workspace) IsDirty(id string) bool { return w.store.IsDirty(id) }

// SelectNode marks id as the selected node without opening it.
func (w *Workspace) SelectNode(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id != "" && w.tree.FindByID(id) == nil {
		return tree.ErrNotFound
	}
	w.selected = id
	return nil
}

// Select opens a file in a tab, makes it active and selected, and returns
// its content. Content of lazily loaded projects is fetched on first
// access; a failed fetch yields a placeholder.
func (w *Workspace) Select(ctx context.Context, id string) (string, error) {
	w.mu.Lock()
	if w.tree.FindFile(id) == nil {
		w.mu.Unlock()
		return "", fmt.Errorf("select %s: %w", id, tree.ErrNotFound)
	}
	w.store.Open(id)
	w.active = id
	w.selected = id
	w.mu.Unlock()

	text, err := w.Read(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, tree.ErrNotFound) {
			return "", err
		}
		logging.Warn("file content unavailable", zap.String("id", id), zap.Error(err))
		return loadErrorContent, nil
	}
	return text, nil
}

// Read returns the current content of a file, fetching it first when the
// project is lazily loaded and the content has not been loaded yet.
func (w *Workspace) Read(ctx context.Context, id string) (string, error) {
	w.mu.Lock()
	if w.tree.FindFile(id) == nil {
		w.mu.Unlock()
		return "", fmt.Errorf("read %s: %w", id, tree.ErrNotFound)
	}
	remote, fetchable := w.remotePaths[id]
	lazy, version := w.lazy, w.version
	w.mu.Unlock()

	if !lazy || !fetchable {
		return w.store.Get(id), nil
	}
	if text, ok := w.store.Lookup(id); ok {
		return text, nil
	}
	text, err := w.store.LoadIfAbsent(ctx, w.fetcher, id, remote, version)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", remote, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tree.FindFile(id) == nil {
		// Deleted while the fetch was in flight.
		return "", fmt.Errorf("read %s: %w", id, tree.ErrNotFound)
	}
	return text, nil
}

// CloseTab closes a file tab and drops its unsaved flag. Content is kept.
// Closing the active tab activates the most recently opened remaining tab.
func (w *Workspace) CloseTab(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.Close(id)
	if w.active == id {
		w.active = w.lastOpenLocked()
	}
}

// Activate makes an open tab active.
func (w *Workspace) Activate(id string) error {
	if !w.store.IsOpen(id) {
		return content.ErrNotOpen
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = id
	return nil
}

func (w *Workspace) lastOpenLocked() string {
	open := w.store.OpenIDs()
	if len(open) == 0 {
		return ""
	}
	return open[len(open)-1]
}

// Edit records new content for an open file and marks it dirty.
func (w *Workspace) Edit(id, text string) error {
	if err := w.store.Set(id, text); err != nil {
		return fmt.Errorf("edit %s: %w", id, err)
	}
	return nil
}

// SaveFile writes a file's edited content into the tree and clears its
// dirty flag. It reports false when the file had no unsaved edits.
func (w *Workspace) SaveFile(id string) bool {
	if !w.store.IsDirty(id) {
		return false
	}
	w.mu.Lock()
	f := w.tree.FindFile(id)
	if f == nil {
		w.mu.Unlock()
		return false
	}
	f.Content = w.store.Get(id)
	name := f.Name
	w.mu.Unlock()

	w.store.ClearDirty(id)
	w.console.Append(fmt.Sprintf("File '%s' saved.", name))
	return true
}

// SaveProject persists the whole tree with current contents and writes
// the saved contents back into the tree. Content of lazily loaded files is
// fetched first so nothing is saved empty.
func (w *Workspace) SaveProject(ctx context.Context) error {
	w.console.Append(lineSaving)
	err := w.saveProject(ctx)
	metrics.RecordSave(err == nil)
	if err != nil {
		w.console.Append(fmt.Sprintf("Error saving project: %v", err))
		return err
	}
	w.console.Append(lineSaved)
	return nil
}

func (w *Workspace) saveProject(ctx context.Context) error {
	if err := w.materialize(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	req := reconcile.Encode(w.tree.Nodes, w.store)
	w.mu.Unlock()

	resp, err := w.storage.SaveProject(ctx, w.projectID, req)
	if err != nil {
		return err
	}
	w.store.ClearDirty()

	w.mu.Lock()
	w.version = string(resp.Version)
	w.size = resp.Size
	tree.Walk(req.Tree, func(n models.Node, _ *models.Folder, _ string) bool {
		if saved, ok := n.(*models.File); ok {
			if f := w.tree.FindFile(saved.ID); f != nil {
				f.Content = saved.Content
			}
		}
		return true
	})
	if w.lazy {
		// Everything is loaded now; future fetches, if any, go by the
		// paths the new version was saved under.
		w.remotePaths = make(map[string]string)
		tree.Walk(w.tree.Nodes, func(n models.Node, _ *models.Folder, path string) bool {
			if _, ok := n.(*models.File); ok {
				w.remotePaths[n.NodeID()] = path
			}
			return true
		})
	}
	w.mu.Unlock()

	logging.Info("project saved",
		zap.String("project", w.projectID),
		zap.String("version", string(resp.Version)),
		zap.Int64("size", resp.Size))
	return nil
}

// materialize loads every file that still lives only in storage.
func (w *Workspace) materialize(ctx context.Context) error {
	w.mu.Lock()
	if !w.lazy {
		w.mu.Unlock()
		return nil
	}
	var pending []string
	for id := range w.remotePaths {
		if w.tree.FindFile(id) != nil {
			pending = append(pending, id)
		}
	}
	w.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchLimit)
	for _, id := range pending {
		if _, ok := w.store.Lookup(id); ok {
			continue
		}
		g.Go(func() error {
			_, err := w.Read(gctx, id)
			return err
		})
	}
	return g.Wait()
}

// ValidateName checks a node name: 1 to 255 characters, no '/'
// or NUL, and not "." or "..".
func ValidateName(name string) error {
	err := validation.Validate(name,
		validation.Required,
		validation.Length(1, 255),
		validation.By(func(v interface{}) error {
			s, _ := v.(string)
			if strings.ContainsAny(s, "/\x00") {
				return errors.New("must not contain '/'")
			}
			if s == "." || s == ".." {
				return errors.New("is reserved")
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %q %v", ErrInvalidName, name, err)
	}
	return nil
}

// Create adds a file or folder with the default name. See CreateNamed.
func (w *Workspace) Create(kind models.Kind) (models.Node, error) {
	name := defaultFileName
	if kind == models.KindFolder {
		name = defaultFolderName
	}
	return w.CreateNamed(kind, name)
}

// CreateNamed adds a file or folder inside the selected folder, next to
// the selected file, or at the top level when nothing is selected. The
// new node becomes selected and enters rename mode.
func (w *Workspace) CreateNamed(kind models.Kind, name string) (models.Node, error) {
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var node models.Node
	switch kind {
	case models.KindFile:
		node = &models.File{ID: tree.NewID(), Name: name}
	case models.KindFolder:
		node = &models.Folder{ID: tree.NewID(), Name: name, Children: models.Nodes{}}
	default:
		return nil, fmt.Errorf("create: unknown kind %q", kind)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	parentID := ""
	switch sel := w.tree.FindByID(w.selected).(type) {
	case *models.Folder:
		parentID = sel.ID
	case *models.File:
		parentID, _ = w.tree.FindParentID(sel.ID)
	}
	w.tree.Insert(parentID, node)
	if kind == models.KindFile {
		w.store.Put(node.NodeID(), "")
	}
	w.selected = node.NodeID()
	w.renaming = node.NodeID()
	return node, nil
}

// Rename changes a node's name. Ids are unchanged.
func (w *Workspace) Rename(id, name string) error {
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.tree.Rename(id, name) {
		return fmt.Errorf("rename %s: %w", id, tree.ErrNotFound)
	}
	if w.renaming == id {
		w.renaming = ""
	}
	return nil
}

// CancelRename leaves rename mode.
func (w *Workspace) CancelRename() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.renaming = ""
}

// Delete removes a node and its whole subtree from the tree, the content
// store and the open and dirty sets, and returns the removed ids.
func (w *Workspace) Delete(id string) ([]string, error) {
	w.mu.Lock()
	node := w.tree.FindByID(id)
	if node == nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("delete %s: %w", id, tree.ErrNotFound)
	}
	removed := w.tree.Remove(id)
	w.store.Purge(removed...)

	gone := make(map[string]bool, len(removed))
	for _, rid := range removed {
		gone[rid] = true
		delete(w.remotePaths, rid)
	}
	if gone[w.active] {
		w.active = w.lastOpenLocked()
	}
	if gone[w.selected] {
		w.selected = ""
	}
	if gone[w.renaming] {
		w.renaming = ""
	}
	w.mu.Unlock()

	w.console.Append(fmt.Sprintf("Deleted %q.", node.NodeName()))
	return removed, nil
}

// Copy duplicates a node and its subtree directly after the original.
// Every copied file carries the original's current content.
func (w *Workspace) Copy(id string) (models.Node, error) {
	w.mu.Lock()
	node := w.tree.FindByID(id)
	if node == nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("copy %s: %w", id, tree.ErrNotFound)
	}
	clone, ids := tree.DeepCopy(node, w.tree.Siblings(id))
	w.tree.InsertAfter(id, clone)

	for oldID, newID := range ids {
		if text, ok := w.store.Lookup(oldID); ok {
			w.store.Put(newID, text)
			continue
		}
		if remote, ok := w.remotePaths[oldID]; ok {
			w.remotePaths[newID] = remote
		}
	}
	w.mu.Unlock()

	w.console.Append(fmt.Sprintf("Copied %q to %q.", node.NodeName(), clone.NodeName()))
	return clone, nil
}

// ClearConsole drops every console line except the welcome line and the
// connection line.
func (w *Workspace) ClearConsole() {
	w.console.RemoveIf(func(l console.Line) bool {
		return l.Text != w.welcome && !strings.Contains(l.Text, lineConnected)
	})
}

// Session returns the sandbox session, or nil before StartSession.
func (w *Workspace) Session() *sandbox.Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess
}

// StartSession connects to the execution sandbox. Connection progress and
// all stream output are written to the console. A workspace has at most
// one session; once it closes, the workspace must be reopened. A call made
// while the session is still connecting waits for that attempt.
func (w *Workspace) StartSession(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return sandbox.ErrClosed
	}
	if w.sess != nil {
		sess, pending := w.sess, w.connectDone
		w.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			return ctx.Err()
		}
		w.mu.Lock()
		err := w.connectErr
		w.mu.Unlock()
		if err != nil {
			return err
		}
		return sess.Connect(ctx)
	}
	cfg := w.sandboxCfg
	hooks := cfg.Hooks
	cfg.Hooks.OnRetry = func(attempt int, err error, wait time.Duration) {
		w.console.Append(fmt.Sprintf("Attempt %d failed. Retrying in %s...", attempt, humanWait(wait)))
		if hooks.OnRetry != nil {
			hooks.OnRetry(attempt, err, wait)
		}
	}
	sess := sandbox.New(cfg)
	pending := make(chan struct{})
	w.sess = sess
	w.connectDone = pending
	w.mu.Unlock()

	err := w.connect(ctx, sess)
	w.mu.Lock()
	w.connectErr = err
	w.mu.Unlock()
	close(pending)
	return err
}

// connect runs the first connection attempt of a session and starts the
// output pump.
func (w *Workspace) connect(ctx context.Context, sess *sandbox.Client) error {
	w.console.Append(lineConnecting)
	if err := sess.Connect(ctx); err != nil {
		w.console.Append(fmt.Sprintf("Error: Could not connect to execution server. %v", err))
		return err
	}
	w.console.RemoveIf(func(l console.Line) bool {
		return strings.Contains(l.Text, "Connecting") || strings.Contains(l.Text, "Retrying")
	})

	sessionID := sess.SessionID()
	sctx := logging.WithSession(ctx, sessionID)
	w.record(sctx, sessionID)
	w.console.Append(lineConnected)
	logging.WithContext(sctx).Info("workspace session started", zap.String("project", w.projectID))

	done := make(chan struct{})
	w.mu.Lock()
	w.pumpDone = done
	w.mu.Unlock()
	go w.pump(sess, done)
	return nil
}

// record mirrors console lines of the session into the transcript store.
func (w *Workspace) record(ctx context.Context, sessionID string) {
	if w.transcripts == nil {
		return
	}
	log := logging.WithContext(ctx)
	if err := w.transcripts.Begin(ctx, sessionID, w.projectID); err != nil {
		log.Warn("transcript disabled for session", zap.Error(err))
		return
	}
	store := w.transcripts
	cancel := w.console.Subscribe(func(l console.Line) {
		if err := store.Append(context.Background(), sessionID, l); err != nil {
			log.Warn("transcript append failed", zap.Uint64("seq", l.Seq), zap.Error(err))
		}
	})
	w.mu.Lock()
	w.unsubscribe = cancel
	w.mu.Unlock()
}

// pump copies stream output to the console in arrival order.
func (w *Workspace) pump(sess *sandbox.Client, done chan struct{}) {
	defer close(done)
	for msg := range sess.Messages() {
		if msg.Kind != sandbox.KindEnd {
			w.console.Append(msg.Line())
		}
		w.mu.Lock()
		w.processed = msg.Seq
		close(w.progress)
		w.progress = make(chan struct{})
		w.mu.Unlock()
	}
	if sess.Err() != nil {
		w.console.Append(lineStreamError)
	}
	w.console.Append(lineDisconnected)
}

// Run uploads every file of the project to the sandbox and starts the
// program. The console is reset for the run. A session is started first
// when none exists.
func (w *Workspace) Run(ctx context.Context) error {
	sess := w.Session()
	if sess == nil || sess.State() == sandbox.Connecting {
		if err := w.StartSession(ctx); err != nil {
			return err
		}
		sess = w.Session()
	}
	if st := sess.State(); st != sandbox.Connected && st != sandbox.Running {
		w.console.Append(lineNotConnected)
		return sandbox.ErrNotConnected
	}

	w.console.Clear()
	w.console.Append(lineUploading)

	if err := w.materialize(ctx); err != nil {
		metrics.RecordRunFailed()
		w.console.Append("Error: " + err.Error())
		return err
	}
	w.mu.Lock()
	files := reconcile.FlattenForUpload(w.tree.Nodes, w.store)
	w.mu.Unlock()

	if err := sess.UploadAll(ctx, files); err != nil {
		metrics.RecordRunFailed()
		w.console.Append("Error: " + err.Error())
		return err
	}
	w.console.Append(lineUploaded)
	w.console.Append(lineExecuting)

	if err := sess.Run(ctx, nil); err != nil {
		w.console.Append("Error: " + err.Error())
		return err
	}
	logging.Info("run started",
		zap.String("project", w.projectID),
		zap.String("session_id", sess.SessionID()),
		zap.Int("files", len(files)))
	return nil
}

// WaitIdle blocks until the current run has settled and all of its output
// is on the console.
func (w *Workspace) WaitIdle(ctx context.Context) error {
	sess := w.Session()
	if sess == nil {
		return nil
	}
	if err := sess.WaitIdle(ctx); err != nil {
		return err
	}
	target := sess.Delivered()

	for {
		w.mu.Lock()
		reached := w.processed >= target
		progress, done := w.progress, w.pumpDone
		w.mu.Unlock()
		if reached || done == nil {
			return nil
		}
		select {
		case <-progress:
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close ends the sandbox session and stops transcript recording.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	sess, done := w.sess, w.pumpDone
	w.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	if done != nil {
		<-done
	}

	w.mu.Lock()
	cancel := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	logging.Debug("workspace closed",
		zap.String("project", w.projectID),
		zap.Int("console_subscribers", w.console.Subscribers()))
	return nil
}

// humanWait renders a retry delay the way the console shows it.
func humanWait(d time.Duration) string {
	switch {
	case d == time.Second:
		return "1 second"
	case d > 0 && d%time.Second == 0:
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	default:
		return d.String()
	}
}
