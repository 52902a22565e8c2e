package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/yachtsync/internal/apperrors"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	st, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestLocalStore_WriteStream(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)

	t.Run("new file in nested directory", func(t *testing.T) {
		t.Parallel()

		content := []byte("jpeg bytes")
		written, err := st.WriteStream(ctx, "images/vessel-1/primary.jpg", bytes.NewReader(content))
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), written)

		data, err := st.Read(ctx, "images/vessel-1/primary.jpg")
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("permissions", func(t *testing.T) {
		t.Parallel()

		_, err := st.WriteStream(ctx, "perm/file.bin", strings.NewReader("x"))
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(st.rootPath, "perm/file.bin"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(filePerm), info.Mode().Perm())
	})

	t.Run("overwrite leaves no temp files", func(t *testing.T) {
		t.Parallel()

		for _, body := range []string{"first version", "second"} {
			_, err := st.WriteStream(ctx, "atomic/file.txt", strings.NewReader(body))
			require.NoError(t, err)
		}

		data, err := st.Read(ctx, "atomic/file.txt")
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))

		entries, err := os.ReadDir(filepath.Join(st.rootPath, "atomic"))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestLocalStore_ReadListDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)

	_, err := st.Read(ctx, "vessels/missing.json")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = st.WriteStream(ctx, "vessels/a.json", strings.NewReader(`{}`))
	require.NoError(t, err)

	files, err := st.List(ctx, "vessels")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "vessels/a.json", files[0].Path)

	require.NoError(t, st.Delete(ctx, "vessels/a.json"))
	require.NoError(t, st.Delete(ctx, "vessels/a.json"), "deleting a missing file is not an error")
	_, err = st.Read(ctx, "vessels/a.json")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	files, err = st.List(ctx, "nowhere")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocalTransaction_Apply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)

	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Write("vessels/vessel-1.json", []byte(`{"vessel_id":1}`)))
	require.NoError(t, tx.Write(".yachtsync/ids/vessel-1.json", []byte(`{"stored_id":"draft"}`)))
	require.NoError(t, tx.Write(".yachtsync/ids/vessel-1.json", []byte(`{"stored_id":"vessel-1"}`)))

	_, err = st.Read(ctx, "vessels/vessel-1.json")
	require.ErrorIs(t, err, apperrors.ErrNotFound, "staged files stay invisible until applied")

	require.NoError(t, tx.Apply(ctx))
	require.ErrorIs(t, tx.Write("x", nil), apperrors.ErrTransactionDone)
	require.ErrorIs(t, tx.Apply(ctx), apperrors.ErrTransactionDone)

	data, err := st.Read(ctx, ".yachtsync/ids/vessel-1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stored_id":"vessel-1"}`, string(data))

	entries, err := os.ReadDir(filepath.Join(st.rootPath, ".yachtsync", "ids"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	// Rolled back: nothing lands.
	tx, err = st.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Write("vessels/vessel-2.json", []byte(`{}`)))
	require.NoError(t, tx.Rollback())
	require.ErrorIs(t, tx.Apply(ctx), apperrors.ErrTransactionDone)
	_, err = st.Read(ctx, "vessels/vessel-2.json")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLocalStore_Commit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)

	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Write("vessels/vessel-1.json", []byte(`{"vessel_id":1}`)))
	require.NoError(t, tx.Apply(ctx))
	require.NoError(t, st.Commit(ctx, "import vessel-1"))

	head, err := st.repo.Head()
	require.NoError(t, err)
	commit, err := st.repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "import vessel-1", commit.Message)
	assert.Equal(t, "yachtsync", commit.Author.Name)

	// Clean tree: no new commit.
	require.NoError(t, st.Commit(ctx, "empty"))
	head2, err := st.repo.Head()
	require.NoError(t, err)
	assert.Equal(t, head.Hash(), head2.Hash())
}

func TestRemoteConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &RemoteConfig{URL: "https://git.example/catalog.git", Commit: true}
	cfg.ApplyDefaults()

	assert.Equal(t, "main", cfg.Branch)
	assert.Equal(t, "yachtsync", cfg.User)
	assert.Equal(t, defaultCommitPeriod, cfg.GetCommitPeriod())
	assert.True(t, cfg.IsEnabled())
	assert.True(t, cfg.IsPushEnabled())
	assert.Equal(t, StorageModeRemote, cfg.EffectiveStorageMode())

	local := &RemoteConfig{Storage: "LOCAL", URL: "git@example:x.git"}
	local.ApplyDefaults()
	assert.False(t, local.IsEnabled())
	assert.True(t, local.IsSSH())
	assert.Equal(t, StorageModeLocal, local.EffectiveStorageMode())

	var none *RemoteConfig
	assert.False(t, none.IsCommitEnabled())
	_, err := none.GetAuth()
	require.ErrorIs(t, err, apperrors.ErrRemoteNotConfigured)

	noPass := &RemoteConfig{URL: "https://git.example/x.git"}
	_, err = noPass.GetAuth()
	require.ErrorIs(t, err, apperrors.ErrHTTPSPasswordRequired)
}
