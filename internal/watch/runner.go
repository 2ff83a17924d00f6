package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dsync-go/internal/dsync"
)

// Runner pumps watcher events into the sync engine: created and modified
// files are ingested, deleted files delete the corresponding document.
type Runner struct {
	watcher  *Watcher
	ingestor *dsync.Ingestor
	engine   *dsync.SyncEngine
	logger   dsync.Logger
	wg       sync.WaitGroup
}

// NewRunner creates a runner feeding the given ingestor and engine.
func NewRunner(watcher *Watcher, ingestor *dsync.Ingestor, engine *dsync.SyncEngine, logger dsync.Logger) *Runner {
	if logger == nil {
		logger = dsync.NewNopLogger()
	}
	return &Runner{
		watcher:  watcher,
		ingestor: ingestor,
		engine:   engine,
		logger:   logger,
	}
}

// Start begins watching dir and processing its events.
func (r *Runner) Start(dir string) error {
	if err := r.watcher.Start(dir); err != nil {
		return err
	}
	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop halts the watcher and waits for in-flight event handling to finish.
func (r *Runner) Stop() error {
	err := r.watcher.Stop()
	r.wg.Wait()
	return err
}

func (r *Runner) loop() {
	defer r.wg.Done()

	events := r.watcher.Events()
	errs := r.watcher.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.handle(ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Warn("watcher error", "error", err)
		}
	}
}

func (r *Runner) handle(ev FileEvent) {
	ctx := context.Background()

	switch ev.Op {
	case OpCreate, OpModify:
		payload, err := os.ReadFile(ev.Path)
		if err != nil {
			// Editors often remove-then-rename; the follow-up event carries
			// the readable file.
			r.logger.Debug("skipping unreadable file", "path", ev.Path, "error", err)
			return
		}
		name := strings.TrimSuffix(filepath.Base(ev.Path), ".json")
		if _, err := r.ingestor.DocumentChanged(ctx, ev.DocumentID, name, payload, "watch"); err != nil {
			r.logger.Warn("ingesting watched file", "path", ev.Path, "error", err)
		}

	case OpDelete:
		if err := r.engine.DeleteDocument(ctx, ev.DocumentID); err != nil {
			r.logger.Warn("deleting watched document", "doc", ev.DocumentID, "error", err)
		}
	}
}
