// Package broadcast pushes domain events to the subscribers of an item and to
// every admin subscriber.
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	apperrors "memotag-notifier/internal/common/errors"
	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/common/metrics"
	"memotag-notifier/internal/common/observability"
	"memotag-notifier/internal/models"
	"memotag-notifier/internal/realtime/registry"
)

const (
	DefaultPushTimeout = 5 * time.Second
	pushFanout         = 32
)

type Config struct {
	// PushTimeout bounds one push to one connection.
	PushTimeout time.Duration
}

// Publisher forwards an already serialized envelope to other instances.
type Publisher interface {
	Publish(ctx context.Context, itemID string, payload []byte) error
}

// Report counts the pushes of one broadcast call.
type Report struct {
	Delivered int `json:"delivered"`
	Pruned    int `json:"pruned"`
}

func (r *Report) add(o Report) {
	r.Delivered += o.Delivered
	r.Pruned += o.Pruned
}

type Router struct {
	registry  *registry.Registry
	cfg       Config
	publisher Publisher
	now       func() time.Time
	logger    logger.Logger
}

type Option func(*Router)

// WithPublisher mirrors every broadcast to p.
func WithPublisher(p Publisher) Option {
	return func(r *Router) { r.publisher = p }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

func NewRouter(reg *registry.Registry, cfg Config, log logger.Logger, opts ...Option) *Router {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultPushTimeout
	}
	r := &Router{
		registry: reg,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.Component(log, "broadcast"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) BroadcastNewMessage(ctx context.Context, msg models.Message) (Report, error) {
	return r.broadcast(ctx, msg.ItemID, models.NewMessageEnvelope(msg))
}

func (r *Router) BroadcastStatusChange(ctx context.Context, itemID string, status models.ItemStatus) (Report, error) {
	return r.broadcast(ctx, itemID, models.NewStatusEnvelope(itemID, status, r.now()))
}

// BroadcastProgressChange sends a progress_update; derived is the status the
// progress implied, or nil when it implied none.
func (r *Router) BroadcastProgressChange(ctx context.Context, itemID string, progress int, derived *models.ItemStatus) (Report, error) {
	var status models.ItemStatus
	if derived != nil {
		status = *derived
	}
	return r.broadcast(ctx, itemID, models.NewProgressEnvelope(itemID, progress, status, r.now()))
}

func (r *Router) broadcast(ctx context.Context, itemID string, env models.Envelope) (Report, error) {
	ctx, span := observability.Tracer().Start(ctx, "realtime.broadcast")
	defer span.End()
	span.SetAttributes(
		attribute.String("item.id", itemID),
		attribute.String("event.type", string(env.Type)),
	)

	payload, err := json.Marshal(env)
	if err != nil {
		return Report{}, apperrors.NewSerializationFailedError(string(env.Type), err)
	}
	metrics.BroadcastsTotal.WithLabelValues(string(env.Type)).Inc()

	report := r.Deliver(ctx, itemID, payload)
	span.SetAttributes(
		attribute.Int("delivered", report.Delivered),
		attribute.Int("pruned", report.Pruned),
	)

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, itemID, payload); err != nil {
			r.logger.Warn("relay publish failed", map[string]interface{}{
				"item_id": itemID,
				"error":   err.Error(),
			})
		}
	}

	r.logger.Debug("broadcast finished", map[string]interface{}{
		"item_id":    itemID,
		"event_type": string(env.Type),
		"delivered":  report.Delivered,
		"pruned":     report.Pruned,
	})
	return report, nil
}

// Deliver pushes payload to the local item scope and the admin scope.
func (r *Router) Deliver(ctx context.Context, itemID string, payload []byte) Report {
	var report Report
	report.add(r.pushScope(ctx, registry.ItemScope(itemID), payload))
	report.add(r.pushScope(ctx, registry.AdminScope(), payload))
	return report
}

// pushScope pushes to a snapshot of scope. A failed push unregisters and
// closes that connection; the others are unaffected.
func (r *Router) pushScope(ctx context.Context, scope registry.Scope, payload []byte) Report {
	conns := r.registry.Snapshot(scope)
	if len(conns) == 0 {
		return Report{}
	}

	ok := make([]bool, len(conns))
	var g errgroup.Group
	g.SetLimit(pushFanout)
	for i, conn := range conns {
		i, conn := i, conn
		g.Go(func() error {
			pushCtx, cancel := context.WithTimeout(ctx, r.cfg.PushTimeout)
			defer cancel()

			if err := conn.Send(pushCtx, payload); err != nil {
				r.prune(conn, scope, err)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var report Report
	for _, delivered := range ok {
		if delivered {
			report.Delivered++
		} else {
			report.Pruned++
		}
	}
	metrics.BroadcastPushesTotal.WithLabelValues("delivered").Add(float64(report.Delivered))
	metrics.BroadcastPushesTotal.WithLabelValues("pruned").Add(float64(report.Pruned))
	return report
}

func (r *Router) prune(conn registry.Conn, scope registry.Scope, cause error) {
	r.registry.Unregister(conn, scope)
	_ = conn.Close()
	r.logger.Info("pruned dead connection", map[string]interface{}{
		"conn_id": conn.ID(),
		"scope":   scope.String(),
		"code":    string(apperrors.ErrCodeDeadConnection),
		"error":   cause.Error(),
	})
}
