package watcher

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkmirror/inkmirror/pkg/config"
	"github.com/inkmirror/inkmirror/pkg/content"
	"github.com/inkmirror/inkmirror/pkg/migrations"
	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/inkmirror/inkmirror/pkg/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

type noopEnqueuer struct{}

func (noopEnqueuer) EnqueueForTargets(ctx context.Context, accountID int, itemType string, itemID int, priority int) (int, error) {
	return 0, nil
}

// notebookFileData starts with the zip magic so the file doesn't look like
// an in-progress text placeholder.
var notebookFileData = append([]byte("PK\x03\x04"), make([]byte, 64)...)

func newTestWatcher(t *testing.T, db *bun.DB, dir string) (*Watcher, *content.Service) {
	t.Helper()

	cfg := config.NewForTest()
	cfg.SyncFolderPath = dir
	cfg.SyncFolderAccountID = 1

	contentService := content.NewService(db, quota.NewService(db, cfg), noopEnqueuer{})
	return New(cfg, contentService), contentService
}

func waitForNotebook(t *testing.T, contentService *content.Service, deviceID string) *models.Notebook {
	t.Helper()

	var notebook *models.Notebook
	require.Eventually(t, func() bool {
		nb, err := contentService.NotebookByDeviceID(context.Background(), 1, deviceID)
		require.NoError(t, err)
		notebook = nb
		return nb != nil
	}, 5*time.Second, 20*time.Millisecond)
	return notebook
}

func TestWatcher_RegistersNewNotebookFile(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	w, contentService := newTestWatcher(t, db, dir)

	require.NoError(t, w.Start())
	t.Cleanup(w.Shutdown)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Field Journal.note"), notebookFileData, 0o644))

	notebook := waitForNotebook(t, contentService, "Field Journal.note")
	assert.Equal(t, "Field Journal", notebook.Title)
	assert.Equal(t, filepath.Join(dir, "Field Journal.note"), notebook.Path)
	require.NotNil(t, notebook.LastOpenedAt)
}

func TestWatcher_RegistersExistingFilesOnStart(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Backlog.note"), notebookFileData, 0o644))

	w, contentService := newTestWatcher(t, db, dir)
	require.NoError(t, w.Start())
	t.Cleanup(w.Shutdown)

	waitForNotebook(t, contentService, "Backlog.note")
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	w, contentService := newTestWatcher(t, db, dir)

	require.NoError(t, w.Start())
	t.Cleanup(w.Shutdown)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a notebook"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.note"), notebookFileData, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Journal.note"), notebookFileData, 0o644))

	waitForNotebook(t, contentService, "Journal.note")

	notebooks, err := contentService.ListNotebooks(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, notebooks, 1)
}

func TestWatcher_DisabledWithoutFolder(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	contentService := content.NewService(db, quota.NewService(db, cfg), noopEnqueuer{})

	w := New(cfg, contentService)
	require.NoError(t, w.Start())
	w.Shutdown()
}
