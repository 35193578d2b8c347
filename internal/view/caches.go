package view

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"vigil/internal/cache"
	"vigil/internal/metrics"
)

var (
	ErrUnknownPath = errors.New("view: path not known to this root")
	ErrNotSymlink  = errors.New("view: path is not a symlink")
)

// attrKey addresses one version of one file. Because the signature is part of
// the key, a changed file misses naturally and no explicit invalidation is
// needed.
type attrKey struct {
	Path string
	Sig  Signature
}

func attrKeyString(key attrKey) string {
	return key.Path + "@" + key.Sig.String()
}

func (v *View) lookupLive(path string) (Entry, error) {
	entry, ok := v.Lookup(path)
	if !ok || !entry.Exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	return entry, nil
}

// ContentHash returns the SHA-1 of the file's content as currently recorded
// in the tree, computing and caching it on first access. The file read runs
// without the tree lock held.
func (v *View) ContentHash(path string) (string, error) {
	if v == nil {
		return "", ErrUnknownPath
	}
	entry, err := v.lookupLive(path)
	if err != nil {
		return "", err
	}

	return v.contentHashes.GetOrCompute(attrKey{Path: path, Sig: entry.Signature}, func() (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("content hash %s: %w", path, err)
		}
		sum := sha1.Sum(data)
		return hex.EncodeToString(sum[:]), nil
	})
}

// SymlinkTarget returns the link target for a symlink entry, cached per
// (path, signature).
func (v *View) SymlinkTarget(path string) (string, error) {
	if v == nil {
		return "", ErrUnknownPath
	}
	entry, err := v.lookupLive(path)
	if err != nil {
		return "", err
	}
	if !entry.Signature.IsSymlink() {
		return "", fmt.Errorf("%w: %s", ErrNotSymlink, path)
	}

	return v.symlinkTargets.GetOrCompute(attrKey{Path: path, Sig: entry.Signature}, func() (string, error) {
		target, err := os.Readlink(path)
		if err != nil {
			return "", fmt.Errorf("symlink target %s: %w", path, err)
		}
		return target, nil
	})
}

func (v *View) ContentHashCacheStats() cache.Stats {
	if v == nil {
		return cache.Stats{}
	}
	return v.contentHashes.Stats()
}

func (v *View) SymlinkCacheStats() cache.Stats {
	if v == nil {
		return cache.Stats{}
	}
	return v.symlinkTargets.Stats()
}

func (v *View) ClearContentHashCache() {
	if v == nil {
		return
	}
	v.contentHashes.Clear()
}

func (v *View) ClearSymlinkCache() {
	if v == nil {
		return
	}
	v.symlinkTargets.Clear()
}

// RegisterCacheMetrics exposes both derived caches on the metrics registry
// under the given prefix.
func (v *View) RegisterCacheMetrics(registry *metrics.Registry, prefix string) {
	if v == nil || registry == nil {
		return
	}
	registry.RegisterCache(prefix+"_content_hash", func() metrics.CacheSnapshot {
		return snapshotOf(v.contentHashes.Stats())
	})
	registry.RegisterCache(prefix+"_symlink_target", func() metrics.CacheSnapshot {
		return snapshotOf(v.symlinkTargets.Stats())
	})
}

func snapshotOf(stats cache.Stats) metrics.CacheSnapshot {
	return metrics.CacheSnapshot{
		Hit:   stats.Hit,
		Share: stats.Share,
		Miss:  stats.Miss,
		Evict: stats.Evict,
		Store: stats.Store,
		Load:  stats.Load,
		Erase: stats.Erase,
		Clear: stats.Clear,
		Size:  stats.Size,
	}
}
