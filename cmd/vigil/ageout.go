package main

import (
	"context"
	"errors"
	"time"

	"vigil/internal/root"
)

// startAgeOutLoop reclaims tombstoned entries on every configured interval.
// Poisoned roots are skipped silently; they refuse mutations anyway.
func (d *daemon) startAgeOutLoop(ctx context.Context) func() {
	interval := d.cfg.AgeOutInterval.Std()
	minAge := d.cfg.AgeOutMinAge.Std()
	if interval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				d.ageOutPass(minAge)
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func (d *daemon) ageOutPass(minAge time.Duration) {
	for _, r := range d.roots.List() {
		if _, err := r.PerformAgeOut(minAge); err != nil {
			var poisoned *root.PoisonedError
			if errors.As(err, &poisoned) || errors.Is(err, root.ErrCancelled) {
				continue
			}
			d.logger.Warn("ageout failed", map[string]string{
				"root":  r.Path(),
				"error": err.Error(),
			})
		}
	}
}
