// Package events holds the job plumbing shared by the Zeebe trigger workers:
// variable validation, the execution deadline and the complete or fail
// command that ends every job.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"memotag-notifier/internal/common/camunda"
	apperrors "memotag-notifier/internal/common/errors"
	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/common/metrics"
	"memotag-notifier/internal/common/validation"
)

const (
	DefaultTimeout = 30 * time.Second

	// commandTimeout bounds the complete, fail or throw command of a job,
	// retries included. It is carved out of the job timeout.
	commandTimeout = 5 * time.Second
)

var commandRetry = &camunda.RetryConfig{
	MaxRetries: 3,
	BaseDelay:  200 * time.Millisecond,
	MaxDelay:   time.Second,
}

// Runner drives one job from raw variables to a Zeebe command. timeout is
// the job timeout Zeebe was given when the job was activated.
type Runner struct {
	taskType   string
	timeout    time.Duration
	retry      *camunda.RetryConfig
	validator  *validation.Validator
	errHandler *apperrors.ErrorHandler
	logger     logger.Logger
}

func NewRunner(taskType string, timeout time.Duration, validator *validation.Validator, log logger.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Runner{
		taskType:  taskType,
		timeout:   timeout,
		retry:     commandRetry,
		validator: validator,
		logger:    log,
	}
	r.errHandler = apperrors.NewErrorHandler(log, apperrors.WithCommandRunner(r.sendCommand))
	return r
}

// executionBudget is how long execute may run so that the closing command
// still reaches the broker before Zeebe re-activates the job.
func (r *Runner) executionBudget() time.Duration {
	if r.timeout > 2*commandTimeout {
		return r.timeout - commandTimeout
	}
	return r.timeout / 2
}

func (r *Runner) sendCommand(ctx context.Context, operation string, send func(context.Context) error) error {
	return camunda.ExecuteWithRetry(ctx, r.retry, operation, send)
}

// Decode validates variables against the registered input schema and
// unmarshals them into input.
func (r *Runner) Decode(variables string, input interface{}) error {
	if r.validator != nil {
		result, err := r.validator.ValidateJSON(r.taskType, variables)
		if err != nil {
			return apperrors.NewInvalidEventPayloadError(err.Error())
		}
		if !result.Valid {
			return apperrors.NewInvalidEventPayloadError(result.Summary())
		}
	}
	if err := json.Unmarshal([]byte(variables), input); err != nil {
		return apperrors.NewInvalidEventPayloadError("parse input: " + err.Error())
	}
	return nil
}

// Run decodes the job into input, calls execute within the execution budget
// and completes the job with its output. Any error fails or throws the job.
// The closing command is retried on transient gateway errors.
func (r *Runner) Run(client worker.JobClient, job entities.Job, input interface{}, execute func(ctx context.Context) (interface{}, error)) {
	start := time.Now()
	r.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var (
		output interface{}
		err    error
	)
	if err = r.Decode(job.Variables, input); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.executionBudget())
		output, err = execute(ctx)
		cancel()
	}
	r.finish(start, err)

	// The execution context may have expired; the closing command gets its own.
	cmdCtx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err != nil {
		r.errHandler.HandleJobError(cmdCtx, client, job, err)
		return
	}
	r.completeJob(cmdCtx, client, job, output)
}

func (r *Runner) finish(start time.Time, err error) {
	result := "success"
	if err != nil {
		result = string(apperrors.CodeOf(err))
	}
	metrics.TriggerJobsTotal.WithLabelValues(r.taskType, result).Inc()
	metrics.TriggerJobDuration.WithLabelValues(r.taskType).Observe(time.Since(start).Seconds())
}

func (r *Runner) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		r.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}
	err = r.sendCommand(ctx, "complete", func(ctx context.Context) error {
		_, err := cmd.Send(ctx)
		return err
	})
	if err != nil {
		r.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}
	r.logger.Info("job completed", map[string]interface{}{"jobKey": job.Key})
}
