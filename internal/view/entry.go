package view

import (
	"fmt"
	"io/fs"
	"time"
)

// Tick is a per-root monotonically increasing counter. Every mutation of the
// tree is stamped with the tick assigned to it; ticks never decrease while a
// root is live.
type Tick uint64

// Signature condenses the stat attributes that identify one version of a
// file. Two observations with equal signatures are treated as the same
// content; any change to the underlying file yields a new signature and
// therefore a new derived-cache key.
type Signature struct {
	Size    int64
	ModTime int64 // nanoseconds since epoch
	Mode    fs.FileMode
}

func SignatureOf(info fs.FileInfo) Signature {
	if info == nil {
		return Signature{}
	}
	return Signature{
		Size:    info.Size(),
		ModTime: info.ModTime().UnixNano(),
		Mode:    info.Mode(),
	}
}

func (s Signature) IsSymlink() bool {
	return s.Mode&fs.ModeSymlink != 0
}

func (s Signature) IsDir() bool {
	return s.Mode.IsDir()
}

func (s Signature) String() string {
	return fmt.Sprintf("%d:%d:%o", s.Size, s.ModTime, uint32(s.Mode))
}

// Entry is one filesystem path known to the tree. Entries are owned by the
// View; callers only ever see copies.
type Entry struct {
	Path         string
	Exists       bool
	Signature    Signature
	ObservedTick Tick
	ChangedTick  Tick
	CreatedTick  Tick
	ChangedAt    time.Time
}

// LatestTick is the tick that orders this entry in a delta.
func (e Entry) LatestTick() Tick {
	if e.ChangedTick > e.ObservedTick {
		return e.ChangedTick
	}
	return e.ObservedTick
}
