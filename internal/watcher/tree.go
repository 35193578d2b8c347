package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type treeHandle struct {
	watcher *Watcher
	root    string
}

func (handle *treeHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	handle.watcher.dropTree(handle.root)
	return nil
}

// WatchTree registers a recursive watch over root and feeds settled changes
// to sink. The returned Handle removes the registration and its watches.
func (watcher *Watcher) WatchTree(root string, sink Sink) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if sink == nil {
		return nil, errors.New("sink is nil")
	}

	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(absolute)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", absolute)
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, errors.New("watcher is closed")
	}
	if _, exists := watcher.trees[absolute]; exists {
		watcher.mutex.Unlock()
		return nil, ErrAlreadyWatched
	}
	tree := &treeWatch{root: absolute, sink: sink}
	watcher.trees[absolute] = tree
	watcher.mutex.Unlock()

	if err := watcher.addSubtree(tree, absolute, false); err != nil {
		watcher.dropTree(absolute)
		return nil, err
	}
	return &treeHandle{watcher: watcher, root: absolute}, nil
}

// addSubtree watches every directory under start. When ingest is true each
// visited path is also pushed to the sink, which covers entries created
// between the kernel event and the walk.
func (watcher *Watcher) addSubtree(tree *treeWatch, start string, ingest bool) error {
	return filepath.WalkDir(start, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			if addErr := watcher.addDirWatch(path, tree.root); addErr != nil {
				if errors.Is(addErr, ErrMaxWatchesExceeded) {
					return addErr
				}
				watcher.logWarn("watch add failed", map[string]string{
					"path":  path,
					"error": addErr.Error(),
				})
			}
		}
		if ingest {
			if ingestErr := tree.sink.Ingest(path); ingestErr != nil {
				watcher.logWarn("ingest failed", map[string]string{
					"path":  path,
					"error": ingestErr.Error(),
				})
			}
		}
		return nil
	})
}

func (watcher *Watcher) addDirWatch(dir, treeRoot string) error {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	if _, exists := watcher.dirs[dir]; exists {
		watcher.mutex.Unlock()
		return nil
	}
	if len(watcher.dirs) >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return ErrMaxWatchesExceeded
	}
	watcher.dirs[dir] = treeRoot
	active := len(watcher.dirs)
	source := watcher.watcher
	watcher.mutex.Unlock()

	if source == nil {
		return nil
	}
	if err := source.Add(dir); err != nil {
		watcher.mutex.Lock()
		delete(watcher.dirs, dir)
		watcher.mutex.Unlock()
		return err
	}
	watcher.logDebug("watch added", dir, active)
	return nil
}

func (watcher *Watcher) dropTree(root string) {
	watcher.mutex.Lock()
	delete(watcher.trees, root)
	removed := make([]string, 0)
	for dir, owner := range watcher.dirs {
		if owner == root {
			delete(watcher.dirs, dir)
			removed = append(removed, dir)
		}
	}
	source := watcher.watcher
	closed := watcher.closed
	watcher.mutex.Unlock()

	if source == nil || closed {
		return
	}
	for _, dir := range removed {
		if err := source.Remove(dir); err != nil {
			watcher.logDebug("watch remove skipped", dir, 0)
		}
	}
}

// treeFor resolves the registration owning path by longest root prefix.
func (watcher *Watcher) treeFor(path string) *treeWatch {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()

	var best *treeWatch
	for root, tree := range watcher.trees {
		if !withinTree(root, path) {
			continue
		}
		if best == nil || len(root) > len(best.root) {
			best = tree
		}
	}
	return best
}

func withinTree(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

func (watcher *Watcher) allSinks() []Sink {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()

	sinks := make([]Sink, 0, len(watcher.trees))
	for _, tree := range watcher.trees {
		sinks = append(sinks, tree.sink)
	}
	return sinks
}
