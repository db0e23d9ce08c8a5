package messagecreated

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "memotag-notifier/internal/common/errors"
	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/common/validation"
	"memotag-notifier/internal/models"
	"memotag-notifier/internal/trigger"
	"memotag-notifier/internal/workers/events"
)

const (
	TaskType = "memotag.message-created"
	// WorkerName keys the worker's entry in the workers config section.
	WorkerName = "message-created"
)

type Trigger interface {
	OnMessageCreated(ctx context.Context, item *models.Item, msg models.Message, notify bool) (*trigger.MessageResult, error)
}

type Handler struct {
	config  *Config
	trigger Trigger
	runner  *events.Runner
	now     func() time.Time
	logger  logger.Logger
}

func NewHandler(config *Config, t Trigger, validator *validation.Validator, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		trigger: t,
		runner:  events.NewRunner(TaskType, config.Timeout, validator, log),
		now:     time.Now,
		logger:  log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	var input Input
	h.runner.Run(client, job, &input, func(ctx context.Context) (interface{}, error) {
		return h.Execute(ctx, &input)
	})
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	msg, err := h.toMessage(input)
	if err != nil {
		return nil, err
	}

	result, err := h.trigger.OnMessageCreated(ctx, input.Item, msg, input.SendNotification)
	if err != nil {
		return nil, err
	}

	output := &Output{
		Delivered:         result.Broadcast.Delivered,
		Pruned:            result.Broadcast.Pruned,
		NotificationError: result.DispatchError,
	}
	if result.Dispatch != nil {
		output.NotificationsAttempted = result.Dispatch.Attempted
		output.NotificationsSucceeded = result.Dispatch.Succeeded
	}

	h.logger.Info("message broadcast", map[string]interface{}{
		"itemId":    msg.ItemID,
		"messageId": msg.ID,
		"delivered": output.Delivered,
		"notified":  result.Notified,
	})
	return output, nil
}

func (h *Handler) toMessage(input *Input) (models.Message, error) {
	createdAt := h.now().UTC()
	if input.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, input.CreatedAt)
		if err != nil {
			return models.Message{}, apperrors.NewInvalidEventPayloadError("created_at is not RFC 3339: " + input.CreatedAt)
		}
		createdAt = parsed
	}
	return models.Message{
		ID:        input.ID,
		ItemID:    input.ItemID,
		Body:      input.Message,
		Author:    input.UserName,
		Category:  models.MessageCategory(input.MsgType),
		CreatedAt: createdAt,
		Notify:    input.SendNotification,
	}, nil
}
