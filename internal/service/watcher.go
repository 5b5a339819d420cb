package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// StoreWatcher reacts to filesystem changes in the store directory so that
// deleting the database file out of band unloads plans promptly instead of
// waiting for the next recovery tick.
type StoreWatcher struct {
	coordinator *Coordinator
	watcher     *fsnotify.Watcher
	done        chan struct{}
}

// WatchStore starts watching the store directory on behalf of c.
func WatchStore(c *Coordinator) (*StoreWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := c.store.Dir()
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &StoreWatcher{coordinator: c, watcher: fw, done: make(chan struct{})}
	go w.loop()
	log.Printf("watcher: watching store directory %s", dir)
	return w, nil
}

func (w *StoreWatcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// WAL checkpoints touch -wal and -shm siblings constantly;
			// only the main database file matters.
			if strings.HasSuffix(ev.Name, "-wal") || strings.HasSuffix(ev.Name, "-shm") {
				continue
			}
			w.coordinator.ReconcileStore(context.Background())
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %v", err)
		}
	}
}

// Close stops the watcher and waits for its loop to exit.
func (w *StoreWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
