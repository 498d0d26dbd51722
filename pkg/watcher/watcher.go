package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inkmirror/inkmirror/pkg/config"
	"github.com/inkmirror/inkmirror/pkg/content"

	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// notebookExtensions are the file extensions written by the device sync
// client. Only file-level metadata is read; the binary format itself is
// never parsed here.
var notebookExtensions = map[string]bool{
	".note":     true,
	".notebook": true,
}

// Watcher observes the device sync folder and turns notebook file events
// into notebook metadata upserts, which in turn fire the metadata delivery
// lane.
type Watcher struct {
	config         *config.Config
	log            logger.Logger
	contentService *content.Service

	fsw  *fsnotify.Watcher
	done chan struct{}
}

func New(cfg *config.Config, contentService *content.Service) *Watcher {
	return &Watcher{
		config:         cfg,
		log:            logger.New(),
		contentService: contentService,
		done:           make(chan struct{}),
	}
}

// Start begins watching the configured sync folder. It is a no-op when no
// folder is configured. Existing files are registered once at startup so
// notebooks synced while the process was down are not missed.
func (w *Watcher) Start() error {
	if w.config.SyncFolderPath == "" {
		close(w.done)
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WithStack(err)
	}
	w.fsw = fsw

	if err := fsw.Add(w.config.SyncFolderPath); err != nil {
		fsw.Close()
		return errors.WithStack(err)
	}

	if err := w.registerExisting(); err != nil {
		w.log.Err(err).Error("register existing notebooks error")
	}

	go w.watch()

	w.log.Info("watching sync folder", logger.Data{"path": w.config.SyncFolderPath})
	return nil
}

func (w *Watcher) Shutdown() {
	if w.fsw != nil {
		w.fsw.Close()
	}
	<-w.done
}

func (w *Watcher) watch() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.handleFile(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Err(err).Error("sync folder watch error")
		}
	}
}

func (w *Watcher) registerExisting() error {
	entries, err := os.ReadDir(w.config.SyncFolderPath)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.handleFile(filepath.Join(w.config.SyncFolderPath, entry.Name()))
	}

	return nil
}

func (w *Watcher) handleFile(path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return
	}
	if !notebookExtensions[strings.ToLower(filepath.Ext(name))] {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		// Renamed-away or deleted between event and stat.
		return
	}
	if info.IsDir() {
		return
	}

	// Sync clients write text placeholders while a transfer is in progress;
	// skip anything that isn't binary notebook data yet.
	if mtype, err := mimetype.DetectFile(path); err == nil && strings.HasPrefix(mtype.String(), "text/") {
		return
	}

	ctx := w.log.WithContext(context.Background())
	accountID := w.config.SyncFolderAccountID
	deviceID := name
	title := strings.TrimSuffix(name, filepath.Ext(name))
	modTime := info.ModTime().Truncate(time.Second)

	pageCount := 0
	existing, err := w.contentService.NotebookByDeviceID(ctx, accountID, deviceID)
	if err != nil {
		w.log.Err(err).Error("notebook lookup error", logger.Data{"device_id": deviceID})
		return
	}
	if existing != nil {
		// Page count is owned by the intake API; the watcher only sees the
		// file.
		pageCount = existing.PageCount
	}

	_, err = w.contentService.UpsertNotebook(ctx, content.UpsertNotebookOptions{
		AccountID:    accountID,
		DeviceID:     deviceID,
		Title:        title,
		Path:         path,
		PageCount:    pageCount,
		LastOpenedAt: &modTime,
	})
	if err != nil {
		w.log.Err(err).Error("notebook upsert error", logger.Data{"device_id": deviceID})
		return
	}

	w.log.Info("registered notebook file", logger.Data{"device_id": deviceID, "path": path})
}
