// Package trigger is the boundary where the persistence layer reports a
// mutation. It always runs the broadcast and runs the notification dispatch
// only when the caller opted in.
package trigger

import (
	"context"
	"errors"
	"time"

	apperrors "memotag-notifier/internal/common/errors"
	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/common/observability"
	"memotag-notifier/internal/models"
	"memotag-notifier/internal/realtime/broadcast"
	"memotag-notifier/internal/store/items"
)

type Broadcaster interface {
	BroadcastNewMessage(ctx context.Context, msg models.Message) (broadcast.Report, error)
	BroadcastStatusChange(ctx context.Context, itemID string, status models.ItemStatus) (broadcast.Report, error)
	BroadcastProgressChange(ctx context.Context, itemID string, progress int, derived *models.ItemStatus) (broadcast.Report, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, item *models.Item, msg models.Message) (*models.DispatchOutcome, error)
}

// Invalidator drops cached item snapshots after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, itemID string) error
}

type MessageResult struct {
	ItemID    string                  `json:"item_id"`
	MessageID string                  `json:"message_id,omitempty"`
	Broadcast broadcast.Report        `json:"broadcast"`
	Notified  bool                    `json:"notified"`
	Dispatch  *models.DispatchOutcome `json:"dispatch,omitempty"`
	// DispatchError is the error code when dispatch could not run.
	DispatchError string `json:"dispatch_error,omitempty"`
}

type StatusResult struct {
	ItemID    string            `json:"item_id"`
	Status    models.ItemStatus `json:"status"`
	Broadcast broadcast.Report  `json:"broadcast"`
}

type ProgressResult struct {
	ItemID        string            `json:"item_id"`
	Progress      int               `json:"progress"`
	DerivedStatus models.ItemStatus `json:"derived_status,omitempty"`
	Broadcast     broadcast.Report  `json:"broadcast"`
}

type Service struct {
	broadcaster Broadcaster
	dispatcher  Dispatcher
	store       items.Store
	invalidator Invalidator
	obs         *observability.Observability
	logger      logger.Logger
}

type Option func(*Service)

// WithItemStore lets OnMessageCreated fetch the snapshot when the caller
// supplies only an item id.
func WithItemStore(store items.Store) Option {
	return func(s *Service) { s.store = store }
}

func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

func WithObservability(obs *observability.Observability) Option {
	return func(s *Service) { s.obs = obs }
}

func NewService(b Broadcaster, d Dispatcher, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		broadcaster: b,
		dispatcher:  d,
		logger:      logger.Component(log, "trigger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnMessageCreated reacts to a stored message. item may be nil, in which case
// the snapshot is looked up when notification was requested. Dispatch
// failures are reported in the result, never as an error.
func (s *Service) OnMessageCreated(ctx context.Context, item *models.Item, msg models.Message, notify bool) (result *MessageResult, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "message_created", start, err) }()

	ctx, cancel := detach(ctx)
	defer cancel()

	msg = msg.Normalize()
	if msg.ItemID == "" && item != nil {
		msg.ItemID = item.ItemID
	}
	if problem := msg.Validate(); problem != "" {
		return nil, apperrors.NewInvalidEventPayloadError(problem)
	}
	if item != nil && item.ItemID != msg.ItemID {
		return nil, apperrors.NewInvalidEventPayloadError("item snapshot does not match message item_id")
	}
	msg.Notify = notify

	report, err := s.broadcaster.BroadcastNewMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	result = &MessageResult{
		ItemID:    msg.ItemID,
		MessageID: msg.ID,
		Broadcast: report,
		Notified:  notify,
	}
	if !notify {
		return result, nil
	}

	if item == nil {
		item, err = s.lookup(ctx, msg.ItemID)
		if err != nil {
			result.DispatchError = string(apperrors.CodeOf(err))
			return result, nil
		}
	}

	outcome, err := s.dispatcher.Dispatch(ctx, item, msg)
	result.Dispatch = outcome
	if err != nil {
		result.DispatchError = string(apperrors.CodeOf(err))
		s.logger.Warn("notification dispatch failed", map[string]interface{}{
			"item_id":    msg.ItemID,
			"message_id": msg.ID,
			"code":       result.DispatchError,
		})
	}
	return result, nil
}

func (s *Service) OnStatusChanged(ctx context.Context, itemID string, status models.ItemStatus) (result *StatusResult, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "status_changed", start, err) }()

	ctx, cancel := detach(ctx)
	defer cancel()

	if itemID == "" {
		return nil, apperrors.NewInvalidEventPayloadError("item_id is required")
	}
	if !status.Valid() {
		return nil, apperrors.NewInvalidStatusError(string(status))
	}
	s.invalidate(ctx, itemID)

	report, err := s.broadcaster.BroadcastStatusChange(ctx, itemID, status)
	if err != nil {
		return nil, err
	}
	return &StatusResult{ItemID: itemID, Status: status, Broadcast: report}, nil
}

// OnProgressChanged broadcasts the new progress and, when the progress
// implies a status, a status_update as well.
func (s *Service) OnProgressChanged(ctx context.Context, itemID string, progress int) (result *ProgressResult, err error) {
	start := time.Now()
	defer func() { s.record(ctx, "progress_changed", start, err) }()

	ctx, cancel := detach(ctx)
	defer cancel()

	if itemID == "" {
		return nil, apperrors.NewInvalidEventPayloadError("item_id is required")
	}
	if !models.ValidProgress(progress) {
		return nil, apperrors.NewInvalidProgressError(progress)
	}
	s.invalidate(ctx, itemID)

	result = &ProgressResult{ItemID: itemID, Progress: progress}

	var derived *models.ItemStatus
	if status, ok := models.StatusForProgress(progress); ok {
		derived = &status
		result.DerivedStatus = status
	}

	report, err := s.broadcaster.BroadcastProgressChange(ctx, itemID, progress, derived)
	if err != nil {
		return nil, err
	}
	result.Broadcast = report

	if derived != nil {
		statusReport, err := s.broadcaster.BroadcastStatusChange(ctx, itemID, *derived)
		if err != nil {
			return nil, err
		}
		result.Broadcast.Delivered += statusReport.Delivered
		result.Broadcast.Pruned += statusReport.Pruned
	}
	return result, nil
}

// detach drops the caller's cancellation but keeps its deadline. A requester
// hanging up must not cut a broadcast or a dispatch short, while a Zeebe job
// deadline still bounds them.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return detached, func() {}
}

func (s *Service) lookup(ctx context.Context, itemID string) (*models.Item, error) {
	if s.store == nil {
		return nil, nil
	}
	item, err := s.store.GetItem(ctx, itemID)
	switch {
	case err == nil:
		return item, nil
	case errors.Is(err, items.ErrNotFound):
		// Dispatch reports the missing item.
		return nil, nil
	default:
		lookupErr := apperrors.NewItemLookupFailedError(itemID, err)
		s.logger.Error("item lookup failed", map[string]interface{}{
			"item_id": itemID,
			"error":   err.Error(),
		})
		return nil, lookupErr
	}
}

func (s *Service) invalidate(ctx context.Context, itemID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, itemID); err != nil {
		s.logger.Warn("snapshot invalidation failed", map[string]interface{}{
			"item_id": itemID,
			"error":   err.Error(),
		})
	}
}

func (s *Service) record(ctx context.Context, kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = string(apperrors.CodeOf(err))
	}
	s.obs.RecordTrigger(ctx, kind, status, time.Since(start))
}
