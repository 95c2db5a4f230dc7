package notify

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// SidecarWatcher watches the pinned mirror directory and dispatches a
// callback per changed tenant, so other processes can reload pinned state
// without polling.
type SidecarWatcher struct {
	dir      string
	callback func(userID string)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewSidecarWatcher creates a watcher for {dataPath}/pinned/.
func NewSidecarWatcher(dataPath string, callback func(userID string)) *SidecarWatcher {
	return &SidecarWatcher{
		dir:      filepath.Join(dataPath, "pinned"),
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching. Call Stop to clean up.
func (sw *SidecarWatcher) Start() error {
	if err := os.MkdirAll(sw.dir, 0o700); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(sw.dir); err != nil {
		_ = w.Close()
		return err
	}
	sw.watcher = w

	go sw.loop()
	log.Printf("notify: watching %s for pinned mirror changes", sw.dir)
	return nil
}

// Stop shuts down the watcher.
func (sw *SidecarWatcher) Stop() {
	if sw.watcher != nil {
		_ = sw.watcher.Close()
	}
	<-sw.done
}

func (sw *SidecarWatcher) loop() {
	defer close(sw.done)
	for {
		select {
		case evt, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			// Mirrors land via rename; some platforms report Create.
			if evt.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(evt.Name)
			if !strings.HasSuffix(name, ".md") {
				continue
			}
			if sw.callback != nil {
				sw.callback(strings.TrimSuffix(name, ".md"))
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}
