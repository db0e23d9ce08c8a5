// internal/common/camunda/worker.go
package camunda

import (
	"sync"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"memotag-notifier/internal/common/config"
	"memotag-notifier/internal/common/logger"
)

// WorkerSet opens job workers on one client and closes them together.
type WorkerSet struct {
	client  zbc.Client
	mu      sync.Mutex
	workers map[string]worker.JobWorker
	logger  logger.Logger
}

func NewWorkerSet(client zbc.Client, log logger.Logger) *WorkerSet {
	return &WorkerSet{
		client:  client,
		workers: make(map[string]worker.JobWorker),
		logger:  logger.Component(log, "camunda"),
	}
}

// Start opens a worker for taskType unless wcfg disables it. It reports
// whether a worker was opened.
func (s *WorkerSet) Start(taskType string, wcfg config.WorkerConfig, handler worker.JobHandler) bool {
	if !wcfg.Enabled {
		s.logger.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.workers[taskType]; running {
		return false
	}

	s.workers[taskType] = s.client.NewJobWorker().
		JobType(taskType).
		Handler(handler).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(time.Duration(wcfg.Timeout) * time.Millisecond).
		Open()

	s.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return true
}

func (s *WorkerSet) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.workers))
	for taskType := range s.workers {
		out = append(out, taskType)
	}
	return out
}

// Close stops polling and waits for in-flight jobs of every worker.
func (s *WorkerSet) Close() {
	s.mu.Lock()
	workers := s.workers
	s.workers = make(map[string]worker.JobWorker)
	s.mu.Unlock()

	for taskType, w := range workers {
		w.Close()
		w.AwaitClose()
		s.logger.Info("worker stopped", map[string]interface{}{"taskType": taskType})
	}
}
