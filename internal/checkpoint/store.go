// Package checkpoint implements the Checkpoint Store (C6): a git repository
// whose metadata is isolated from (and invisible to) anything the user's own
// workspace might already have under version control, used to snapshot and
// restore the workspace around a task (§4.6).
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

const (
	checkpointSubjectPrefix = "CHECKPOINT: "
	adviceOnlySuffix        = " (advice-only)"
	initialCommitSubject    = "Initial checkpoint repository"
)

// checkpointAuthor is the store's fixed commit identity (§4.6): checkpoint
// history is machine-authored, never attributed to whichever user or agent
// triggered the task.
var checkpointAuthor = object.Signature{Name: "Zypher Agent", Email: "agent@zypher.local"}

// ErrNotFound is returned when a checkpoint ID doesn't resolve to a commit in
// the store.
var ErrNotFound = errors.New("checkpoint: not found")

// ErrWorkspaceDirty is returned by ApplyCheckpoint when the workspace has
// been modified since the last checkpoint and force wasn't set (§9 Open
// Question: resolved in favor of refusing by default — see DESIGN.md).
var ErrWorkspaceDirty = errors.New("checkpoint: workspace modified since last checkpoint")

// Store is the Checkpoint Store. Its metadata directory and work tree are
// both explicit and distinct from any repository the workspace directory may
// itself contain: go-git is pointed at a private storer and a worktree
// filesystem rooted at workspaceDir, never at workspaceDir/.git.
type Store struct {
	mu sync.Mutex

	repo         *git.Repository
	workspaceDir string

	watcher *fsnotify.Watcher
	dirty   bool
}

// NewStore opens or idempotently initializes the checkpoint store at
// metadataDir, tracking workspaceDir as the tree it snapshots.
func NewStore(metadataDir, workspaceDir string) (*Store, error) {
	if err := os.MkdirAll(metadataDir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create metadata dir: %w", err)
	}
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create workspace dir: %w", err)
	}

	metaFS := osfs.New(metadataDir)
	workFS := osfs.New(workspaceDir)
	storer := filesystem.NewStorage(metaFS, cache.NewObjectLRUDefault())

	repo, err := git.Open(storer, workFS)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.Init(storer, workFS)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open store: %w", err)
	}

	s := &Store{repo: repo, workspaceDir: workspaceDir}
	if err := s.ensureInitialCommit(); err != nil {
		return nil, err
	}
	s.watchWorkspace()
	return s, nil
}

// ensureInitialCommit creates the reserved empty "Initial checkpoint
// repository" marker commit the first time the store is opened (§4.6,
// §4.6's listCheckpoints contract).
func (s *Store) ensureInitialCommit() error {
	if _, err := s.repo.Head(); err == nil {
		return nil
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("checkpoint: read head: %w", err)
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("checkpoint: worktree: %w", err)
	}
	sig := checkpointAuthor
	sig.When = time.Now()
	if _, err := wt.Commit(initialCommitSubject, &git.CommitOptions{Author: &sig, AllowEmptyCommits: true}); err != nil {
		return fmt.Errorf("checkpoint: initial commit: %w", err)
	}
	return nil
}

// CreateCheckpoint stages all workspace content and commits it under the
// "CHECKPOINT: <name>" subject, or with an " (advice-only)" suffix if
// nothing changed (§4.6).
func (s *Store) CreateCheckpoint(ctx context.Context, name string) (models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCheckpointLocked(name)
}

func (s *Store) createCheckpointLocked(name string) (models.Checkpoint, error) {
	wt, err := s.repo.Worktree()
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: stage: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: status: %w", err)
	}
	adviceOnly := status.IsClean()

	subject := checkpointSubjectPrefix + name
	if adviceOnly {
		subject += adviceOnlySuffix
	}

	sig := checkpointAuthor
	sig.When = time.Now()
	hash, err := wt.Commit(subject, &git.CommitOptions{Author: &sig, AllowEmptyCommits: true})
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: commit: %w", err)
	}
	s.dirty = false

	files, err := s.changedFiles(hash)
	if err != nil {
		return models.Checkpoint{}, err
	}

	return models.Checkpoint{
		ID:         hash.String(),
		Name:       name,
		Timestamp:  sig.When,
		Files:      files,
		AdviceOnly: adviceOnly,
	}, nil
}

// GetCheckpointDetails resolves id to its hash, timestamp, parsed name, and
// changed-file list (§4.6).
func (s *Store) GetCheckpointDetails(ctx context.Context, id string) (models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointDetails(id)
}

func (s *Store) checkpointDetails(id string) (models.Checkpoint, error) {
	hash := plumbing.NewHash(id)
	commit, err := s.repo.CommitObject(hash)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	name, adviceOnly := parseSubject(commit.Message)
	files, err := s.changedFiles(hash)
	if err != nil {
		return models.Checkpoint{}, err
	}
	return models.Checkpoint{
		ID:         hash.String(),
		Name:       name,
		Timestamp:  commit.Author.When,
		Files:      files,
		AdviceOnly: adviceOnly,
	}, nil
}

// parseSubject extracts a checkpoint's name from its commit subject,
// trimming the advice-only suffix (§4.6, §6).
func parseSubject(message string) (name string, adviceOnly bool) {
	subject := strings.SplitN(message, "\n", 2)[0]
	if subject == initialCommitSubject {
		return subject, false
	}
	trimmed := strings.TrimPrefix(subject, checkpointSubjectPrefix)
	if strings.HasSuffix(trimmed, adviceOnlySuffix) {
		return strings.TrimSuffix(trimmed, adviceOnlySuffix), true
	}
	return trimmed, false
}

// changedFiles lists the paths changed in hash relative to its first
// parent, or every file in its tree if it has no parent.
func (s *Store) changedFiles(hash plumbing.Hash) ([]string, error) {
	commit, err := s.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load tree: %w", err)
	}

	if commit.NumParents() == 0 {
		var files []string
		err := tree.Files().ForEach(func(f *object.File) error {
			files = append(files, f.Name)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("checkpoint: walk tree: %w", err)
		}
		sort.Strings(files)
		return files, nil
	}

	parent, err := commit.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load parent: %w", err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load parent tree: %w", err)
	}

	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: diff: %w", err)
	}
	files := make([]string, 0, len(changes))
	for _, c := range changes {
		name := c.To.Name
		if name == "" {
			name = c.From.Name
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

// ListCheckpoints returns every checkpoint commit plus the initial marker,
// newest first (§4.6).
func (s *Store) ListCheckpoints(ctx context.Context) ([]models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: head: %w", err)
	}
	iter, err := s.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: log: %w", err)
	}
	defer iter.Close()

	var out []models.Checkpoint
	err = iter.ForEach(func(c *object.Commit) error {
		subject := strings.SplitN(c.Message, "\n", 2)[0]
		if subject != initialCommitSubject && !strings.HasPrefix(subject, checkpointSubjectPrefix) {
			return nil
		}
		details, err := s.checkpointDetails(c.Hash.String())
		if err != nil {
			return err
		}
		out = append(out, details)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// ApplyCheckpoint verifies id exists, takes an automatic safety checkpoint
// named "backup-before-applying-<id-prefix>", then restores the workspace
// tree to id's content without moving the store's branch head (§4.6).
//
// Per the §9 Open Question on dirty-workspace handling, ApplyCheckpoint
// refuses with ErrWorkspaceDirty if the workspace has changed since the last
// checkpoint and force is false.
func (s *Store) ApplyCheckpoint(ctx context.Context, id string, force bool) (models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := plumbing.NewHash(id)
	commit, err := s.repo.CommitObject(hash)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.dirty && !force {
		return models.Checkpoint{}, ErrWorkspaceDirty
	}

	if _, err := s.createCheckpointLocked(fmt.Sprintf("backup-before-applying-%s", shortHash(id))); err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: safety checkpoint: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: load tree: %w", err)
	}
	if err := s.restoreTree(tree); err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: restore: %w", err)
	}
	s.dirty = false

	return s.checkpointDetails(id)
}

// restoreTree writes every file in tree into the workspace and removes any
// workspace file tree doesn't contain, without touching the store's own
// metadata (which lives outside workspaceDir entirely).
func (s *Store) restoreTree(tree *object.Tree) error {
	wanted := make(map[string]bool)
	err := tree.Files().ForEach(func(f *object.File) error {
		wanted[f.Name] = true
		dest := filepath.Join(s.workspaceDir, f.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		reader, err := f.Reader()
		if err != nil {
			return err
		}
		defer reader.Close()
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, reader)
		return err
	})
	if err != nil {
		return err
	}

	return filepath.WalkDir(s.workspaceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.workspaceDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ".git" || strings.HasPrefix(rel, ".git/") {
			return nil
		}
		if !wanted[rel] {
			return os.Remove(path)
		}
		return nil
	})
}

func shortHash(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// watchWorkspace starts a best-effort fsnotify watch over the workspace root
// so ApplyCheckpoint can detect out-of-band edits since the last checkpoint.
// It is non-recursive (fsnotify does not watch subdirectories on its own),
// so edits nested below the top level are only caught once a watched
// directory itself reports an event; this is a known gap, not a guarantee.
func (s *Store) watchWorkspace() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	s.watcher = watcher
	_ = watcher.Add(s.workspaceDir)

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if strings.Contains(ev.Name, ".git") {
					continue
				}
				s.mu.Lock()
				s.dirty = true
				s.mu.Unlock()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Close stops the workspace watcher.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
