package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/fclairamb/yachtsync/internal/apperrors"
)

const (
	msgRemoteRepoEmpty = "remote repository is empty"

	// File and directory permissions.
	dirPerm  = 0750 // Directory permissions: rwxr-x---
	filePerm = 0600 // File permissions: rw-------
)

// LocalStore implements Store using local filesystem and git.
type LocalStore struct {
	rootPath     string
	repo         *git.Repository
	mu           sync.RWMutex
	logger       *slog.Logger
	remoteConfig *RemoteConfig
}

// LocalStoreOption configures LocalStore.
type LocalStoreOption func(*LocalStore)

// WithLogger sets a custom logger for the store.
func WithLogger(l *slog.Logger) LocalStoreOption {
	return func(s *LocalStore) {
		s.logger = l
	}
}

// WithRemoteConfig sets the remote git configuration.
func WithRemoteConfig(cfg *RemoteConfig) LocalStoreOption {
	return func(s *LocalStore) {
		s.remoteConfig = cfg
	}
}

// NewLocalStore creates a new local store at the given path.
func NewLocalStore(path string, opts ...LocalStoreOption) (*LocalStore, error) {
	store := &LocalStore{
		rootPath: path,
		logger:   slog.Default(),
	}

	// Apply options first to get remote config
	for _, opt := range opts {
		opt(store)
	}

	// Initialize repository (clone from remote or init locally)
	repo, err := store.initializeRepository(path)
	if err != nil {
		return nil, err
	}

	store.repo = repo
	return store, nil
}

// Read reads a file from the store.
func (s *LocalStore) Read(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fullPath := filepath.Join(s.rootPath, path)
	data, err := os.ReadFile(fullPath) //nolint:gosec // path is application controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, path)
		}
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	return data, nil
}

// List lists files in a directory.
func (s *LocalStore) List(ctx context.Context, dir string) ([]FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fullPath := filepath.Join(s.rootPath, dir)
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var files []FileInfo
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Path:    filepath.Join(dir, entry.Name()),
			IsDir:   entry.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return files, nil
}

// WriteStream streams reader into path. The content is written to a temporary
// file first and renamed into place, so readers never observe a partial file.
func (s *LocalStore) WriteStream(ctx context.Context, path string, reader io.Reader) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fullPath := filepath.Join(s.rootPath, path)
	tmpPath, written, err := writeTemp(fullPath, reader)
	if err != nil {
		return written, fmt.Errorf("stream %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return written, fmt.Errorf("rename %s: %w", path, err)
	}

	s.logger.DebugContext(ctx, "stream write complete", "path", path, "size", written)
	return written, nil
}

// writeTemp copies reader into a temporary file next to fullPath. The caller
// renames or removes the returned file.
func writeTemp(fullPath string, reader io.Reader) (string, int64, error) {
	if err := os.MkdirAll(filepath.Dir(fullPath), dirPerm); err != nil {
		return "", 0, fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-"+filepath.Base(fullPath)+"-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	written, err := io.Copy(tmp, reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), filePerm)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", written, err
	}
	return tmp.Name(), written, nil
}

// Delete deletes a file.
func (s *LocalStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fullPath := filepath.Join(s.rootPath, path)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file %s: %w", path, err)
	}

	return nil
}

// BeginTx starts a new transaction.
func (s *LocalStore) BeginTx(_ context.Context) (Transaction, error) {
	return &localTransaction{store: s, staged: make(map[string][]byte)}, nil
}

// Commit stages every change of the working tree and commits it. It does
// nothing when the tree is clean.
func (s *LocalStore) Commit(ctx context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	worktree, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("git add: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	author := &object.Signature{Name: "yachtsync", Email: "yachtsync@localhost", When: time.Now()}
	if s.remoteConfig != nil && s.remoteConfig.User != "" {
		author.Name = s.remoteConfig.User
		author.Email = s.remoteConfig.Email
	}

	if _, err := worktree.Commit(message, &git.CommitOptions{Author: author}); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.DebugContext(ctx, "committed catalog changes", "message", message)
	return nil
}

// IsRemoteEnabled returns true if remote git operations are configured.
func (s *LocalStore) IsRemoteEnabled() bool {
	return s.remoteConfig.IsEnabled()
}

// RemoteConfig returns the remote configuration.
func (s *LocalStore) RemoteConfig() *RemoteConfig {
	return s.remoteConfig
}

// Pull fetches and merges changes from the remote repository.
func (s *LocalStore) Pull(ctx context.Context) error {
	if !s.IsRemoteEnabled() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	auth, err := s.remoteConfig.GetAuth()
	if err != nil {
		return fmt.Errorf("get auth: %w", err)
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}

	s.logger.InfoContext(ctx, "pulling from remote", "url", s.remoteConfig.URL, "branch", s.remoteConfig.Branch)

	err = worktree.PullContext(ctx, &git.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(s.remoteConfig.Branch),
		Auth:          auth,
	})
	if err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			s.logger.InfoContext(ctx, "already up to date")
			return nil
		}
		// Handle empty remote repository
		if err.Error() == msgRemoteRepoEmpty {
			s.logger.InfoContext(ctx, msgRemoteRepoEmpty+", nothing to pull")
			return nil
		}
		return fmt.Errorf("pull: %w", err)
	}

	s.logger.InfoContext(ctx, "pull complete")
	return nil
}

// Push pushes local commits to the remote repository.
func (s *LocalStore) Push(ctx context.Context) error {
	if !s.IsRemoteEnabled() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	auth, err := s.remoteConfig.GetAuth()
	if err != nil {
		return fmt.Errorf("get auth: %w", err)
	}

	s.logger.InfoContext(ctx, "pushing to remote", "url", s.remoteConfig.URL, "branch", s.remoteConfig.Branch)

	err = s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       auth,
	})
	if err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			s.logger.InfoContext(ctx, "nothing to push")
			return nil
		}
		return fmt.Errorf("push: %w", err)
	}

	s.logger.InfoContext(ctx, "push complete")
	return nil
}

// localTransaction writes every staged file to a temporary sibling first and
// renames them into place only once all of them are on disk.
type localTransaction struct {
	store  *LocalStore
	mu     sync.Mutex
	paths  []string
	staged map[string][]byte
	done   bool
}

// Write stages a file. A later write to the same path replaces it.
func (t *localTransaction) Write(path string, content []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return apperrors.ErrTransactionDone
	}
	if _, ok := t.staged[path]; !ok {
		t.paths = append(t.paths, path)
	}
	t.staged[path] = bytes.Clone(content)
	return nil
}

// Apply places the staged files in the working tree.
func (t *localTransaction) Apply(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return apperrors.ErrTransactionDone
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	temps := make([]string, 0, len(t.paths))
	removeTemps := func() {
		for _, tmp := range temps {
			_ = os.Remove(tmp)
		}
	}

	for _, p := range t.paths {
		tmp, _, err := writeTemp(filepath.Join(t.store.rootPath, p), bytes.NewReader(t.staged[p]))
		if err != nil {
			removeTemps()
			return fmt.Errorf("stage %s: %w", p, err)
		}
		temps = append(temps, tmp)
	}

	for i, p := range t.paths {
		if err := os.Rename(temps[i], filepath.Join(t.store.rootPath, p)); err != nil {
			removeTemps()
			return fmt.Errorf("rename %s: %w", p, err)
		}
	}

	t.store.logger.DebugContext(ctx, "applied transaction", "files", len(t.paths))
	return nil
}

// Rollback discards the staged files.
func (t *localTransaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.paths = nil
	t.staged = nil
	t.done = true
	return nil
}

// initializeRepository initializes a git repository, either by cloning from remote or creating locally.
func (s *LocalStore) initializeRepository(path string) (*git.Repository, error) {
	_, statErr := os.Stat(path)
	dirExists := statErr == nil

	// Try to clone from remote if enabled and directory doesn't exist
	if s.remoteConfig.IsEnabled() && !dirExists {
		return s.cloneFromRemote(path)
	}

	// Otherwise open or create local repository
	return s.openOrCreateLocalRepo(path)
}

// cloneFromRemote clones a repository from the remote URL.
func (s *LocalStore) cloneFromRemote(path string) (*git.Repository, error) {
	s.logger.Info("cloning from remote", "url", s.remoteConfig.URL, "branch", s.remoteConfig.Branch)

	auth, err := s.remoteConfig.GetAuth()
	if err != nil {
		return nil, fmt.Errorf("get auth: %w", err)
	}

	repo, err := git.PlainClone(path, false, &git.CloneOptions{
		URL:           s.remoteConfig.URL,
		Auth:          auth,
		ReferenceName: plumbing.NewBranchReferenceName(s.remoteConfig.Branch),
		SingleBranch:  true,
	})

	if err == nil {
		s.logger.Info("clone complete")
		return repo, nil
	}

	// Handle empty repository - init locally and add remote
	if err.Error() != msgRemoteRepoEmpty {
		return nil, fmt.Errorf("clone repository: %w", err)
	}

	return s.initRepoWithRemote(path)
}

// initRepoWithRemote initializes a new repository and adds the remote.
func (s *LocalStore) initRepoWithRemote(path string) (*git.Repository, error) {
	s.logger.Info(msgRemoteRepoEmpty + ", initializing locally")

	if err := os.MkdirAll(path, dirPerm); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init git repo: %w", err)
	}

	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{s.remoteConfig.URL},
	})
	if err != nil {
		return nil, fmt.Errorf("add remote origin: %w", err)
	}

	return repo, nil
}

// openOrCreateLocalRepo opens an existing repository or creates a new one.
func (s *LocalStore) openOrCreateLocalRepo(path string) (*git.Repository, error) {
	// Ensure path exists
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	// Try to open existing repository
	repo, err := git.PlainOpen(path)
	if err == nil {
		return s.ensureRemoteConfigured(repo)
	}

	// Repository doesn't exist - create it
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open git repo: %w", err)
	}

	return s.initNewRepo(path)
}

// initNewRepo initializes a new git repository and optionally adds remote.
func (s *LocalStore) initNewRepo(path string) (*git.Repository, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init git repo: %w", err)
	}

	// If remote is configured, add it to the new repo
	if s.remoteConfig.IsEnabled() {
		if err := s.addRemoteToRepo(repo); err != nil {
			return nil, err
		}
	}

	return repo, nil
}

// ensureRemoteConfigured ensures the remote is configured in an existing repository.
func (s *LocalStore) ensureRemoteConfigured(repo *git.Repository) (*git.Repository, error) {
	if !s.remoteConfig.IsEnabled() {
		return repo, nil
	}

	// Check if remote exists
	if _, err := repo.Remote("origin"); err == nil {
		return repo, nil
	}

	// Remote doesn't exist, add it
	s.logger.Info("adding remote origin to existing repo", "url", s.remoteConfig.URL)
	if err := s.addRemoteToRepo(repo); err != nil {
		return nil, err
	}

	return repo, nil
}

// addRemoteToRepo adds the origin remote to a repository.
func (s *LocalStore) addRemoteToRepo(repo *git.Repository) error {
	_, err := repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{s.remoteConfig.URL},
	})
	if err != nil {
		return fmt.Errorf("add remote origin: %w", err)
	}
	return nil
}
