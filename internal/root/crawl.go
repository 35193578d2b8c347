package root

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"vigil/internal/view"
)

var errCrawlAborted = errors.New("root: crawl aborted")

// ScheduleRecrawl starts a full re-enumeration of the tree and returns the
// crawl's identity. Scheduling while a crawl is already running is a no-op
// that returns the running crawl's identity rather than starting a second
// one.
func (r *Root) ScheduleRecrawl(reason string) (uint64, error) {
	if r == nil {
		return 0, ErrCancelled
	}
	if err := r.poisonedErr(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	if r.status == StatusCancelled {
		r.mu.Unlock()
		return 0, ErrCancelled
	}
	if r.current != nil {
		id := r.current.id
		r.mu.Unlock()
		return id, nil
	}

	r.crawlSeq++
	run := &crawlRun{
		id:     r.crawlSeq,
		reason: reason,
		done:   make(chan struct{}),
	}
	r.current = run
	if r.doneInitial {
		r.recrawlCount++
	}
	r.status = StatusCrawling
	r.mu.Unlock()

	r.metrics.IncCrawlStarted()
	if r.logger != nil {
		r.logger.Info("crawl scheduled", map[string]string{
			"root":   r.path,
			"reason": reason,
			"crawl":  strconv.FormatUint(run.id, 10),
		})
	}

	go r.runCrawl(run)
	return run.id, nil
}

func (r *Root) runCrawl(run *crawlRun) {
	started := time.Now()
	startTick := r.view.CurrentTick()

	err := r.enumerate()

	r.mu.Lock()
	if r.status == StatusCancelled {
		r.current = nil
		r.mu.Unlock()
		close(run.done)
		return
	}

	if err != nil {
		r.lastCrawlErr = &CrawlError{Reason: run.reason, Err: err}
		r.status = StatusSettled
		r.current = nil
		r.mu.Unlock()

		r.metrics.IncCrawlFailed()
		if r.logger != nil {
			r.logger.Warn("crawl failed", map[string]string{
				"root":  r.path,
				"error": err.Error(),
			})
		}
		close(run.done)
		return
	}

	r.lastCrawlErr = nil
	r.status = StatusSettled
	r.doneInitial = true
	r.current = nil
	r.mu.Unlock()

	// Everything not re-confirmed by the crawl is gone as of now.
	swept := r.view.SweepUnobserved(startTick + 1)

	r.metrics.RecordCrawlCompleted(time.Since(started))
	if r.logger != nil {
		r.logger.Info("crawl complete", map[string]string{
			"root":     r.path,
			"swept":    itoa(swept),
			"duration": time.Since(started).String(),
		})
	}
	close(run.done)
}

// enumerate walks the tree, stat-ing entries on a bounded worker pool and
// recording each as observed. Walk errors surface to the caller as a crawl
// failure; an entry that vanishes mid-walk is simply skipped, the watcher
// reports it separately.
func (r *Root) enumerate() error {
	group := errgroup.Group{}
	group.SetLimit(r.crawlConcurrency)

	walkErr := filepath.WalkDir(r.path, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := r.poisonedErr(); err != nil {
			return errCrawlAborted
		}

		group.Go(func() error {
			info, statErr := os.Lstat(path)
			if statErr != nil {
				if errors.Is(statErr, fs.ErrNotExist) {
					return nil
				}
				return statErr
			}
			// A worker can outlive the walk's own poison check; re-check
			// here so no observation commits after the root is poisoned.
			if err := r.poisonedErr(); err != nil {
				return errCrawlAborted
			}
			r.view.Observe(path, view.SignatureOf(info))
			return nil
		})
		return nil
	})

	statErr := group.Wait()
	if walkErr != nil {
		return walkErr
	}
	return statErr
}

func itoa(value int) string {
	return strconv.Itoa(value)
}
