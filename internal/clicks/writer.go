package clicks

import (
	"context"
	"encoding/json"
	"fmt"

	"log/slog"

	"gorm.io/gorm"

	"linklytics/internal/pkg/geoip"
)

// Appender is the subset of the time-series client the writer needs.
type Appender interface {
	Append(ctx context.Context, events []any) error
	HasCredentials() bool
}

// DualWriter receives each accepted click on the real-time path so durable
// rollups stay current between aggregation runs. Implementations must
// increment, never replace.
type DualWriter interface {
	RecordClick(ctx context.Context, event *ClickEvent) error
}

// Writer accepts raw click input, sanitizes it into an event, spools it
// durably, and fans it out to the real-time rollup path. Delivery to the
// time-series store happens asynchronously via Flush.
type Writer struct {
	db     *gorm.DB
	store  Appender
	dual   DualWriter
	logger *slog.Logger
	salt   string
}

// NewWriter wires the click write path. dual may be nil to disable the
// real-time rollup fan-out.
func NewWriter(db *gorm.DB, store Appender, dual DualWriter, logger *slog.Logger, salt string) *Writer {
	return &Writer{db: db, store: store, dual: dual, logger: logger, salt: salt}
}

// Collect records one click. Bot traffic is dropped silently. Geo fields are
// resolved locally when the edge did not supply them.
func (w *Writer) Collect(ctx context.Context, input *CollectClickInput) error {
	if input.Country == "" && input.IPAddress != "" {
		country, city := geoip.Lookup(input.IPAddress)
		input.Country = country
		if input.City == "" {
			input.City = city
		}
	}

	event, err := BuildClickEvent(input, w.salt)
	if err != nil {
		return fmt.Errorf("failed to build click event: %w", err)
	}
	if event == nil {
		w.logger.Debug("Dropping bot click", slog.String("link_id", input.LinkID))
		return nil
	}

	if err := Enqueue(w.db, w.logger, event); err != nil {
		return err
	}

	if w.dual != nil {
		if err := w.dual.RecordClick(ctx, event); err != nil {
			// Rollups self-heal on the next aggregation pass; the spooled
			// event is the source of truth.
			w.logger.Error("Real-time rollup write failed",
				slog.String("link_id", event.LinkID),
				slog.Any("error", err))
		}
	}
	return nil
}

// Flush drains up to batchSize spooled events into the time-series store and
// marks them delivered. Returns the number delivered. Without credentials the
// spool is left intact for a later run.
func (w *Writer) Flush(ctx context.Context, batchSize int) (int, error) {
	if !w.store.HasCredentials() {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	pending, err := PendingBatch(w.db, batchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	events := make([]any, 0, len(pending))
	ids := make([]uint, 0, len(pending))
	for _, row := range pending {
		var event ClickEvent
		if err := json.Unmarshal([]byte(row.Payload), &event); err != nil {
			// A corrupt row would wedge the spool forever; mark it delivered
			// and move on.
			w.logger.Error("Skipping corrupt spooled click",
				slog.Uint64("id", uint64(row.ID)),
				slog.Any("error", err))
			ids = append(ids, row.ID)
			continue
		}
		events = append(events, event)
		ids = append(ids, row.ID)
	}

	if len(events) > 0 {
		if err := w.store.Append(ctx, events); err != nil {
			return 0, fmt.Errorf("failed to deliver spooled clicks: %w", err)
		}
	}

	if err := MarkSent(w.db, w.logger, ids); err != nil {
		return 0, err
	}
	return len(events), nil
}
