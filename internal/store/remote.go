package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/fclairamb/yachtsync/internal/apperrors"
)

// StorageMode defines the storage mode for git operations.
type StorageMode string

const (
	// StorageModeAuto picks remote when a URL is configured.
	StorageModeAuto StorageMode = ""
	// StorageModeLocal never talks to a remote.
	StorageModeLocal StorageMode = "local"
	// StorageModeRemote pulls before and pushes after runs.
	StorageModeRemote StorageMode = "remote"
)

const defaultCommitPeriod = time.Minute

// RemoteConfig holds configuration for the git-backed catalog.
// It is populated by the config package from YS_GIT_* and related settings.
type RemoteConfig struct {
	Storage      StorageMode   // YS_STORAGE
	URL          string        // YS_GIT_URL
	Password     string        // YS_GIT_PASS
	Branch       string        // YS_GIT_BRANCH
	User         string        // YS_GIT_USER
	Email        string        // YS_GIT_EMAIL
	Commit       bool          // YS_COMMIT
	CommitPeriod time.Duration // YS_COMMIT_PERIOD
	Push         *bool         // YS_PUSH, nil means push whenever a URL is set
}

// ApplyDefaults fills unset fields. A commit period implies commits, and a
// remote URL implies a one minute commit period when commits are enabled.
func (c *RemoteConfig) ApplyDefaults() {
	c.Storage = StorageMode(strings.ToLower(string(c.Storage)))
	if c.Branch == "" {
		c.Branch = "main"
	}
	if c.User == "" {
		c.User = "yachtsync"
	}
	if c.Email == "" {
		c.Email = "yachtsync@local"
	}
	if c.CommitPeriod > 0 {
		c.Commit = true
	}
	if c.Commit && c.CommitPeriod == 0 && c.URL != "" {
		c.CommitPeriod = defaultCommitPeriod
	}
}

// EffectiveStorageMode returns the storage mode after auto-detection.
func (c *RemoteConfig) EffectiveStorageMode() StorageMode {
	if c == nil {
		return StorageModeLocal
	}
	if c.Storage == StorageModeLocal || c.Storage == StorageModeRemote {
		return c.Storage
	}
	if c.URL != "" {
		return StorageModeRemote
	}
	return StorageModeLocal
}

// IsEnabled returns true if remote operations should be used.
func (c *RemoteConfig) IsEnabled() bool {
	if c == nil || c.Storage == StorageModeLocal {
		return false
	}
	return c.URL != ""
}

// IsSSH returns true if the URL is an SSH URL.
func (c *RemoteConfig) IsSSH() bool {
	if c == nil || c.URL == "" {
		return false
	}
	return strings.HasPrefix(c.URL, "git@") || strings.HasPrefix(c.URL, "ssh://")
}

// IsCommitEnabled returns true if catalog writes are committed to git.
func (c *RemoteConfig) IsCommitEnabled() bool {
	return c != nil && c.Commit
}

// IsPushEnabled returns true if commits are pushed to the remote.
func (c *RemoteConfig) IsPushEnabled() bool {
	if c == nil {
		return false
	}
	if c.Push != nil {
		return *c.Push
	}
	return c.URL != ""
}

// GetCommitPeriod returns the periodic commit interval used during runs.
func (c *RemoteConfig) GetCommitPeriod() time.Duration {
	if c == nil {
		return 0
	}
	return c.CommitPeriod
}

// GetAuth returns the authentication method for the remote URL.
func (c *RemoteConfig) GetAuth() (transport.AuthMethod, error) {
	if c == nil || c.URL == "" {
		return nil, apperrors.ErrRemoteNotConfigured
	}

	if c.IsSSH() {
		auth, err := ssh.NewSSHAgentAuth("git")
		if err != nil {
			return nil, fmt.Errorf("create SSH agent auth: %w", err)
		}
		return auth, nil
	}

	if c.Password == "" {
		return nil, apperrors.ErrHTTPSPasswordRequired
	}

	return &http.BasicAuth{
		Username: "oauth2",
		Password: c.Password,
	}, nil
}

// TestConnection lists remote references to verify connectivity.
func (c *RemoteConfig) TestConnection(ctx context.Context) error {
	if !c.IsEnabled() {
		return apperrors.ErrRemoteNotConfigured
	}

	auth, err := c.GetAuth()
	if err != nil {
		return fmt.Errorf("get auth: %w", err)
	}

	rem := git.NewRemote(nil, &config.RemoteConfig{
		Name: "origin",
		URLs: []string{c.URL},
	})

	if _, err = rem.ListContext(ctx, &git.ListOptions{Auth: auth}); err != nil {
		if err.Error() == msgRemoteRepoEmpty {
			return nil
		}
		return fmt.Errorf("list remote: %w", err)
	}

	return nil
}
