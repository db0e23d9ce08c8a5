package progresschanged

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/common/validation"
	"memotag-notifier/internal/trigger"
	"memotag-notifier/internal/workers/events"
)

const (
	TaskType = "memotag.progress-changed"
	// WorkerName keys the worker's entry in the workers config section.
	WorkerName = "progress-changed"
)

type Trigger interface {
	OnProgressChanged(ctx context.Context, itemID string, progress int) (*trigger.ProgressResult, error)
}

type Handler struct {
	config  *Config
	trigger Trigger
	runner  *events.Runner
	logger  logger.Logger
}

func NewHandler(config *Config, t Trigger, validator *validation.Validator, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		trigger: t,
		runner:  events.NewRunner(TaskType, config.Timeout, validator, log),
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
	result, err := h.trigger.OnProgressChanged(ctx, input.ItemID, input.Progress)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("progress broadcast", map[string]interface{}{
		"itemId":        result.ItemID,
		"progress":      result.Progress,
		"derivedStatus": string(result.DerivedStatus),
	})
	return &Output{
		Delivered:     result.Broadcast.Delivered,
		Pruned:        result.Broadcast.Pruned,
		DerivedStatus: string(result.DerivedStatus),
	}, nil
}
