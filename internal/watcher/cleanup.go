package watcher

import (
	"os"
	"time"
)

func (watcher *Watcher) cleanupLoop() {
	ticker := time.NewTicker(watcher.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			watcher.cleanup()
		case <-watcher.done:
			return
		}
	}
}

// cleanup prunes bookkeeping for directories that vanished. The kernel drops
// the underlying watch with the directory, so only the dirs map needs fixing.
func (watcher *Watcher) cleanup() {
	if watcher == nil {
		return
	}
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	dirs := make([]string, 0, len(watcher.dirs))
	for dir := range watcher.dirs {
		dirs = append(dirs, dir)
	}
	watcher.mutex.Unlock()

	for _, dir := range dirs {
		if _, err := os.Lstat(dir); err == nil {
			continue
		}
		watcher.mutex.Lock()
		delete(watcher.dirs, dir)
		active := len(watcher.dirs)
		watcher.mutex.Unlock()
		watcher.logDebug("watch cleaned", dir, active)
	}
}
