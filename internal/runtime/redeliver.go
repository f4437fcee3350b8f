package runtime

import (
	"context"
	"errors"
	"fmt"

	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
)

// RedeliveryReport counts the outcome of a redelivery run.
type RedeliveryReport struct {
	Succeeded int
	Failed    int
}

func (r *RedeliveryReport) add(other RedeliveryReport) {
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
}

// Redeliverer replays dead letters through EventBus.ReDeliver and removes
// each one once it was sent.
type Redeliverer struct {
	bus         *EventBus
	deadLetters EventDeadLetters
	logger      loggingpkg.ServiceLogger
	metrics     *Metrics
}

func NewRedeliverer(bus *EventBus, logger loggingpkg.ServiceLogger, metrics *Metrics) *Redeliverer {
	return &Redeliverer{
		bus:         bus,
		deadLetters: bus.DeadLetters(),
		logger:      loggingpkg.OrNop(logger),
		metrics:     metrics,
	}
}

// RedeliverAll replays the dead letters of every group.
func (r *Redeliverer) RedeliverAll(ctx context.Context) (RedeliveryReport, error) {
	groups, err := r.deadLetters.Groups(ctx)
	if err != nil {
		return RedeliveryReport{}, err
	}
	var report RedeliveryReport
	var errs []error
	for _, group := range groups {
		groupReport, err := r.RedeliverGroup(ctx, group)
		report.add(groupReport)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

// RedeliverGroup replays the dead letters of group. Individual failures are
// counted and logged; the returned error reports storage failures only.
func (r *Redeliverer) RedeliverGroup(ctx context.Context, group Group) (RedeliveryReport, error) {
	ids, err := r.deadLetters.FailedIDs(ctx, group)
	if err != nil {
		return RedeliveryReport{}, fmt.Errorf("list dead letters of %s: %w", group.GroupName(), err)
	}

	var report RedeliveryReport
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if r.redeliverOne(ctx, group, id) {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	r.logger.Info("Redelivered dead letters", loggingpkg.LogFields{
		"group":     group.GroupName(),
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	})
	return report, nil
}

func (r *Redeliverer) redeliverOne(ctx context.Context, group Group, id InsertionID) bool {
	fields := loggingpkg.LogFields{"group": group.GroupName(), "insertion_id": id.String()}

	event, found, err := r.deadLetters.Failed(ctx, group, id)
	if err != nil {
		r.logger.Error("Failed to read dead letter", err, fields)
		return false
	}
	if !found {
		// removed concurrently
		return true
	}
	if err := r.bus.ReDeliver(ctx, group, event); err != nil {
		r.logger.Error("Failed to redeliver dead letter", err, fields)
		return false
	}
	if err := r.deadLetters.Remove(ctx, group, id); err != nil {
		r.logger.Error("Failed to remove redelivered dead letter", err, fields)
		return false
	}
	r.metrics.RecordRedelivered(group.GroupName())
	return true
}
