// Package dispatch sends the new-message notification to every resolved
// recipient with bounded concurrency and per-recipient failure accounting.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	apperrors "memotag-notifier/internal/common/errors"
	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/common/metrics"
	"memotag-notifier/internal/common/observability"
	"memotag-notifier/internal/models"
	"memotag-notifier/internal/notification/gateway"
	"memotag-notifier/internal/notification/recipients"
)

const (
	DefaultMaxConcurrency = 4
	DefaultSendTimeout    = 10 * time.Second
)

type Config struct {
	// MaxConcurrency caps in-flight gateway sends per dispatch.
	MaxConcurrency int
	// SendTimeout bounds each gateway call.
	SendTimeout time.Duration
	// RatePerSec throttles sends across all dispatches; 0 disables it.
	RatePerSec float64
}

// Composer renders the notification for an item and message.
type Composer interface {
	Compose(item *models.Item, msg models.Message) (subject, body string, err error)
}

// Service is safe for concurrent use.
type Service struct {
	cfg      Config
	policy   *recipients.Policy
	sender   gateway.Sender
	composer Composer
	limiter  *rate.Limiter
	logger   logger.Logger

	unconfiguredOnce sync.Once
}

// NewService builds a dispatcher. A nil sender puts the service in the
// unconfigured state: every dispatch returns Configured=false without sending.
func NewService(cfg Config, policy *recipients.Policy, sender gateway.Sender, composer Composer, log logger.Logger) *Service {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}

	s := &Service{
		cfg:      cfg,
		policy:   policy,
		sender:   sender,
		composer: composer,
		logger:   logger.Component(log, "dispatch"),
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return s
}

// Configured reports whether a delivery gateway is wired.
func (s *Service) Configured() bool {
	return s.sender != nil
}

// Dispatch notifies the recipients of msg. It returns an error only for a
// missing item; per-recipient failures are reported in the outcome.
func (s *Service) Dispatch(ctx context.Context, item *models.Item, msg models.Message) (*models.DispatchOutcome, error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "notification.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", msg.ItemID))

	outcome := &models.DispatchOutcome{
		ItemID:     msg.ItemID,
		MessageID:  msg.ID,
		Configured: s.sender != nil,
	}

	if item == nil {
		err := apperrors.NewMissingItemError(msg.ItemID)
		metrics.DispatchesTotal.WithLabelValues("missing_item").Inc()
		span.SetStatus(codes.Error, err.Message)
		s.logger.Warn("dispatch skipped: item not available", map[string]interface{}{
			"item_id":    msg.ItemID,
			"message_id": msg.ID,
		})
		return outcome, err
	}
	outcome.ItemID = item.ItemID

	if s.sender == nil {
		s.unconfiguredOnce.Do(func() {
			s.logger.Warn("delivery gateway not configured, notifications disabled", map[string]interface{}{
				"code": string(apperrors.ErrCodeGatewayUnconfigured),
			})
		})
		metrics.DispatchesTotal.WithLabelValues("unconfigured").Inc()
		return outcome, nil
	}

	addresses := s.policy.Resolve(models.NormalizeAuthor(msg.Author), item.UserEmail)
	span.SetAttributes(attribute.Int("recipients", len(addresses)))
	if len(addresses) == 0 {
		metrics.DispatchesTotal.WithLabelValues("no_recipients").Inc()
		s.logger.Info("no recipients for message", map[string]interface{}{
			"item_id":    item.ItemID,
			"message_id": msg.ID,
		})
		return outcome, nil
	}

	outcome.Attempted = len(addresses)
	outcome.Results = s.sendAll(ctx, item, msg, addresses)
	for _, r := range outcome.Results {
		if r.OK {
			outcome.Succeeded++
		}
	}

	metrics.DispatchesTotal.WithLabelValues("ok").Inc()
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("attempted", outcome.Attempted),
		attribute.Int("succeeded", outcome.Succeeded),
	)

	s.logger.Info("dispatch finished", map[string]interface{}{
		"item_id":    item.ItemID,
		"message_id": msg.ID,
		"attempted":  outcome.Attempted,
		"succeeded":  outcome.Succeeded,
		"durationMs": time.Since(start).Milliseconds(),
	})

	return outcome, nil
}

// sendAll launches sends in recipient order, at most MaxConcurrency at a time.
// Results are indexed like addresses.
func (s *Service) sendAll(ctx context.Context, item *models.Item, msg models.Message, addresses []string) []models.RecipientResult {
	results := make([]models.RecipientResult, len(addresses))
	for i, addr := range addresses {
		results[i].Address = addr
	}

	subject, body, err := s.composer.Compose(item, msg)
	if err != nil {
		for i := range results {
			s.recordFailure(&results[i], err)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)

	for i := range addresses {
		i := i
		g.Go(func() error {
			if err := s.sendOne(ctx, addresses[i], subject, body); err != nil {
				s.recordFailure(&results[i], err)
				return nil
			}
			results[i].OK = true
			metrics.RecipientSendsTotal.WithLabelValues("success").Inc()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *Service) sendOne(ctx context.Context, to, subject, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway panic: %v", r)
		}
	}()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	return s.sender.Send(sendCtx, to, subject, body)
}

func (s *Service) recordFailure(result *models.RecipientResult, err error) {
	stdErr := apperrors.NewRecipientSendFailureError(result.Address, err)
	result.OK = false
	result.Error = err.Error()
	metrics.RecipientSendsTotal.WithLabelValues("failure").Inc()
	s.logger.Warn("recipient send failed", map[string]interface{}{
		"address": result.Address,
		"code":    string(stdErr.Code),
		"error":   stdErr.Details,
	})
}
