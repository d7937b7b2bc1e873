package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deniskipeles/swalang-sandbox/internal/console"
	"github.com/deniskipeles/swalang-sandbox/internal/logging"
	"github.com/deniskipeles/swalang-sandbox/internal/workspace"
	"github.com/deniskipeles/swalang-sandbox/pkg/cache"
	"github.com/deniskipeles/swalang-sandbox/pkg/models"
	"github.com/deniskipeles/swalang-sandbox/pkg/reconcile"
	"github.com/deniskipeles/swalang-sandbox/pkg/tree"
)

func newTreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <project>",
		Short: "Print a project's file tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.openWorkspace(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s, version %s, %d bytes)\n", args[0], w.Strategy(), w.Version(), w.Size())
			printTree(out, w.Nodes())
			return nil
		},
	}
}

func printTree(out io.Writer, nodes models.Nodes) {
	tree.Walk(nodes, func(n models.Node, _ *models.Folder, path string) bool {
		depth := strings.Count(path, "/")
		name := n.NodeName()
		if _, ok := n.(*models.Folder); ok {
			name += "/"
		}
		fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", depth+1), name)
		return true
	})
}

func newCatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <project> <path>",
		Short: "Print one file of a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.openWorkspace(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			defer w.Close()

			node := w.FindPath(args[1])
			if _, ok := node.(*models.File); !ok {
				return fmt.Errorf("%s: no such file", args[1])
			}
			text, err := w.Read(cmd.Context(), node.NodeID())
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), text)
			return err
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run <project>",
		Short: "Run a project in the execution sandbox and stream its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			tr, err := a.openTranscripts()
			if err != nil {
				return err
			}
			if tr != nil {
				defer tr.Close()
			}

			w, err := a.openWorkspace(ctx, args[0], tr)
			if err != nil {
				return err
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			for _, line := range w.Console().Lines() {
				fmt.Fprintln(out, line.Text)
			}
			cancel := w.Console().Subscribe(func(l console.Line) {
				fmt.Fprintln(out, l.Text)
			})
			defer cancel()

			if err := w.Run(ctx); err != nil {
				return err
			}
			if err := w.WaitIdle(ctx); err != nil {
				return err
			}
			if s := w.Session(); s != nil {
				logging.Info("run finished", zap.String("session_id", s.SessionID()))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits for the run to settle)")
	return cmd
}

func newPullCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <project> <dir>",
		Short: "Write every file of a project under a local directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := a.openWorkspace(ctx, args[0], nil)
			if err != nil {
				return err
			}
			defer w.Close()

			dir := args[1]
			count := 0
			var walkErr error
			tree.Walk(w.Nodes(), func(n models.Node, _ *models.Folder, path string) bool {
				rel := filepath.FromSlash(path)
				if walkErr = workspace.ValidateName(n.NodeName()); walkErr == nil && !filepath.IsLocal(rel) {
					walkErr = fmt.Errorf("%w: %q", workspace.ErrInvalidName, path)
				}
				if walkErr != nil {
					walkErr = fmt.Errorf("refusing to write %s: %w", path, walkErr)
					return false
				}
				target := filepath.Join(dir, rel)
				switch n.(type) {
				case *models.Folder:
					walkErr = os.MkdirAll(target, 0o755)
				case *models.File:
					var text string
					if text, walkErr = w.Read(ctx, n.NodeID()); walkErr != nil {
						return false
					}
					if walkErr = os.MkdirAll(filepath.Dir(target), 0o755); walkErr != nil {
						return false
					}
					walkErr = os.WriteFile(target, []byte(text), 0o644)
					count++
				}
				return walkErr == nil
			})
			if walkErr != nil {
				return walkErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pulled %d files from %s (version %s).\n", count, args[0], w.Version())
			return nil
		},
	}
}

func newPushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push <project> <dir>",
		Short: "Replace a project with the contents of a local directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, files, err := readDir(args[1])
			if err != nil {
				return err
			}
			resp, err := a.storage().SaveProject(cmd.Context(), args[0], reconcile.Encode(nodes, files))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d files to %s (version %s, %d bytes).\n",
				len(files), args[0], resp.Version, resp.Size)
			return nil
		},
	}
}

// localFiles maps node ids to file content read from disk.
type localFiles map[string]string

func (f localFiles) Get(id string) string { return f[id] }

// readDir builds a tree from a local directory. Hidden entries are skipped.
func readDir(root string) (models.Nodes, localFiles, error) {
	var entries []models.FlatEntry
	byPath := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		entries = append(entries, models.FlatEntry{Path: rel, IsFolder: d.IsDir()})
		if !d.IsDir() {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			byPath[rel] = string(data)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", root, err)
	}

	nodes := reconcile.BuildTreeFromFlatList(entries)
	files := make(localFiles, len(byPath))
	tree.Walk(nodes, func(n models.Node, _ *models.Folder, path string) bool {
		if _, ok := n.(*models.File); ok {
			files[n.NodeID()] = byPath[path]
		}
		return true
	})
	return nodes, files, nil
}

func newLogsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs [session]",
		Short: "List recorded sessions, or print one session's console transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.openTranscripts()
			if err != nil {
				return err
			}
			if tr == nil {
				return errNoTranscripts
			}
			defer tr.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				sessions, err := tr.Sessions(ctx)
				if err != nil {
					return err
				}
				for _, s := range sessions {
					fmt.Fprintf(out, "%s\t%s\t%s\n", s.ID, s.Project, s.Started.Format(time.RFC3339))
				}
				return nil
			}

			lines, err := tr.Lines(ctx, args[0])
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return fmt.Errorf("no transcript for session %s", args[0])
			}
			for _, l := range lines {
				fmt.Fprintln(out, l.Text)
			}
			return nil
		},
	}
}

func newCacheCmd(a *app) *cobra.Command {
	var clearAll bool
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Show or clear the local content cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cache.New(a.cfg.CacheDir, a.cfg.MaxCacheSize)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if clearAll {
				fmt.Fprintf(out, "Removed %d cached files.\n", c.Clear())
				return nil
			}
			size, maxSize, count := c.Stats()
			fmt.Fprintf(out, "%s: %d files, %d of %d bytes\n", c.Dir(), count, size, maxSize)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearAll, "clear", false, "remove every cached file")
	return cmd
}
