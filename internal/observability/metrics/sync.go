// Package metrics emits standardised sync lifecycle metrics.
package metrics

import (
	"time"

	"github.com/setalabs/blingsync/internal/domain/model"
	obserrors "github.com/setalabs/blingsync/internal/observability/errors"
	"github.com/setalabs/blingsync/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

// SyncMetric captures details about a sync job lifecycle event for metric
// emission. Tenant is deliberately not a tag; tenant counts are unbounded.
type SyncMetric struct {
	Kind       model.SyncKind
	Transition string
	Result     string
	Stats      model.SyncStats
	Duration   time.Duration
	Err        error
}

// EmitSyncLifecycle emits counters and timings for one sync transition.
func EmitSyncLifecycle(sink statsd.Sink, in SyncMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"kind":       string(in.Kind),
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("sync.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("sync.duration", in.Duration, tags)
	}
	if in.Stats.TotalProcessed > 0 {
		sink.Count("sync.records.processed", int64(in.Stats.TotalProcessed), tags)
		sink.Count("sync.records.errors", int64(in.Stats.Errors), tags)
	}
}
