package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// encodeWorker consumes one encoder attempt's event stream, moving
// completed segments from disk into the job's store and enforcing the
// stall timeout and the ahead-window backpressure.
type encodeWorker struct {
	job    *Job
	enc    Encoder
	events <-chan EncoderEvent
}

// run consumes events until exit. A nil return means the encoder finished
// the whole source; ErrStalled, ErrJobCancelled (via ctx), and encoder
// errors are attempt failures the job decides how to handle.
func (w *encodeWorker) run(ctx context.Context) error {
	cfg := w.job.cfg
	store := w.job.store

	stall := time.NewTimer(cfg.StallTimeout)
	defer stall.Stop()

	resetStall := func() {
		if !stall.Stop() {
			select {
			case <-stall.C:
			default:
			}
		}
		stall.Reset(cfg.StallTimeout)
	}

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return context.Canceled

		case <-stall.C:
			w.job.logger.Warn("encoder stalled", slog.Duration("timeout", cfg.StallTimeout))
			w.shutdown()
			return ErrStalled

		case ev, ok := <-w.events:
			if !ok {
				// Closed without an exit event: treat as failure.
				return fmt.Errorf("encoder event stream ended unexpectedly")
			}

			switch ev.Kind {
			case EventHeartbeat:
				w.job.markRunning()
				w.job.recordSpeed(ev.Speed)
				resetStall()

			case EventSegment:
				if err := w.ingestSegment(ev); err != nil {
					w.shutdown()
					return err
				}
				w.job.markRunning()
				resetStall()

				// Pause while too far ahead of the client. The stall
				// timer is idle here: a paused encoder is not stalled.
				target := store.Count() - cfg.AheadWindow
				if target > store.LastRequested() {
					stall.Stop()
					if !store.AwaitDemand(ctx, target) {
						w.shutdown()
						if ctx.Err() != nil {
							return context.Canceled
						}
						return store.Err()
					}
					resetStall()
				}

			case EventExit:
				if ev.Err != nil {
					return ev.Err
				}
				return nil
			}
		}
	}
}

// ingestSegment moves a completed segment from disk into the store.
func (w *encodeWorker) ingestSegment(ev EncoderEvent) error {
	data, err := os.ReadFile(ev.SegmentPath)
	if err != nil {
		return fmt.Errorf("reading segment %s: %w", ev.SegmentPath, err)
	}
	// The store owns the bytes now.
	if err := os.Remove(ev.SegmentPath); err != nil {
		w.job.logger.Warn("removing ingested segment file",
			slog.String("path", ev.SegmentPath),
			slog.String("error", err.Error()),
		)
	}

	duration := ev.SegmentDuration
	if duration <= 0 {
		duration = w.job.cfg.SegmentDuration
	}

	w.job.store.Append(&Segment{
		Index:      w.job.store.Count(),
		Data:       data,
		Duration:   duration,
		ProducedAt: time.Now(),
	})
	return nil
}

// shutdown stops the encoder and drains its event stream so its goroutines
// can exit.
func (w *encodeWorker) shutdown() {
	w.enc.Stop(w.job.cfg.CancelGrace)
	go func() {
		for range w.events {
		}
	}()
}
