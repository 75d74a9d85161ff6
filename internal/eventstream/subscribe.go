package eventstream

import (
	"context"
	"time"
)

// Defaults for batch delivery (§4.4 Delivery): up to N records or every
// T ms, whichever comes first.
const (
	DefaultBatchSize     = 10
	DefaultBatchInterval = 100 * time.Millisecond
)

// Notifier is the narrow capability Subscribe needs to wake up promptly
// when new records land, instead of only polling on a fixed interval.
// Hub (nats_bridge.go) implements this over NATS for cross-process
// wakeups; tests can pass a nil notifier and rely on the interval poll.
type Notifier interface {
	// Wait blocks until either a notification for workflowID arrives or
	// ctx is done. Returning promptly on ctx.Done is required.
	Wait(ctx context.Context, workflowID string)
}

// Subscribe streams batches of records for (workflowId, streamKey)
// starting at fromIndex, following the tail in real time, and
// terminating once a terminal record has been delivered. Multiple
// subscribers for the same execution each get their own cursor and the
// full sequence from their chosen fromIndex — delivery fan-out is
// achieved by each call starting its own poll/notify loop against the
// shared Store, not by sharing a single channel.
func (s *Store) Subscribe(ctx context.Context, workflowID, streamKey string, fromIndex int64, notifier Notifier) <-chan []Record {
	out := make(chan []Record)
	go func() {
		defer close(out)
		cursor := fromIndex
		markerSent := false
		ticker := time.NewTicker(DefaultBatchInterval)
		defer ticker.Stop()

		for {
			records, err := s.Read(ctx, workflowID, streamKey, cursor)
			if err == nil && markerSent && len(records) > 0 && records[0].Index < 0 {
				records = records[1:]
			}
			if err == nil && len(records) > 0 {
				if records[0].Index < 0 {
					markerSent = true
				}
				for i := 0; i < len(records); i += DefaultBatchSize {
					end := i + DefaultBatchSize
					if end > len(records) {
						end = len(records)
					}
					batch := records[i:end]
					select {
					case out <- batch:
					case <-ctx.Done():
						return
					}
				}
				last := records[len(records)-1]
				if last.Index >= cursor {
					cursor = last.Index + 1
				}
				if last.Terminal {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			default:
				if notifier != nil {
					waitCtx, cancel := context.WithTimeout(ctx, DefaultBatchInterval)
					notifier.Wait(waitCtx, workflowID)
					cancel()
				} else {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}
		}
	}()
	return out
}
