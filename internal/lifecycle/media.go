// Package lifecycle holds the media status graph.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

// Trigger moves a media record between statuses.
type Trigger string

const (
	TriggerStartUpload Trigger = "start_upload"
	TriggerComplete    Trigger = "complete"
	TriggerFail        Trigger = "fail"
	TriggerDelete      Trigger = "delete"
	TriggerRetry       Trigger = "retry"
)

// ErrInvalidTransition is returned when a trigger is not permitted from the current status.
var ErrInvalidTransition = errors.New("invalid media transition")

// MediaMachine drives one media record. The record itself holds the state,
// so the machine is cheap and built per operation.
type MediaMachine struct {
	media *domain.Media
	sm    *stateless.StateMachine
}

// NewMediaMachine wraps media. now stamps DeletedAt when the record enters deleted.
func NewMediaMachine(media *domain.Media, now func() time.Time) *MediaMachine {
	if now == nil {
		now = time.Now
	}
	m := &MediaMachine{media: media}

	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return media.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			media.Status = state.(domain.MediaStatus)
			return nil
		},
		stateless.FiringImmediate,
	)

	sm.Configure(domain.MediaStatusPending).
		Permit(TriggerStartUpload, domain.MediaStatusUploading).
		Permit(TriggerFail, domain.MediaStatusFailed).
		Permit(TriggerDelete, domain.MediaStatusDeleted)

	sm.Configure(domain.MediaStatusUploading).
		Ignore(TriggerStartUpload).
		Permit(TriggerComplete, domain.MediaStatusUploaded).
		Permit(TriggerFail, domain.MediaStatusFailed).
		Permit(TriggerDelete, domain.MediaStatusDeleted)

	sm.Configure(domain.MediaStatusUploaded).
		OnEntry(func(_ context.Context, _ ...any) error {
			media.FailureReason = ""
			return nil
		}).
		Ignore(TriggerComplete).
		Permit(TriggerDelete, domain.MediaStatusDeleted)

	sm.Configure(domain.MediaStatusFailed).
		OnEntryFrom(TriggerFail, func(_ context.Context, args ...any) error {
			if len(args) > 0 {
				if reason, ok := args[0].(string); ok {
					media.FailureReason = reason
				}
			}
			return nil
		}).
		Ignore(TriggerFail).
		Permit(TriggerRetry, domain.MediaStatusPending).
		Permit(TriggerDelete, domain.MediaStatusDeleted)

	sm.Configure(domain.MediaStatusDeleted).
		OnEntry(func(_ context.Context, _ ...any) error {
			if media.DeletedAt == nil {
				at := now().UTC()
				media.DeletedAt = &at
			}
			return nil
		}).
		Ignore(TriggerDelete)

	m.sm = sm
	return m
}

// Fire applies trigger and reports whether the status changed. Triggers
// that repeat the current step are accepted as no-ops.
func (m *MediaMachine) Fire(ctx context.Context, trigger Trigger, args ...any) (bool, error) {
	before := m.media.Status
	if err := m.sm.FireCtx(ctx, trigger, args...); err != nil {
		return false, fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, trigger, before, err)
	}
	return m.media.Status != before, nil
}

// CanFire reports whether trigger is permitted or ignored from the current status.
func (m *MediaMachine) CanFire(ctx context.Context, trigger Trigger) bool {
	ok, err := m.sm.CanFireCtx(ctx, trigger)
	return err == nil && ok
}

// Fail is shorthand for firing TriggerFail with a reason.
func (m *MediaMachine) Fail(ctx context.Context, reason string) (bool, error) {
	return m.Fire(ctx, TriggerFail, reason)
}
