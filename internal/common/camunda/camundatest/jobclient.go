// Package camundatest provides an in-memory worker.JobClient for handler
// tests. Commands are built by the real Zeebe command types and recorded at
// the gateway boundary.
package camundatest

import (
	"context"
	"sync"

	"github.com/camunda/zeebe/clients/go/v8/pkg/commands"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"google.golang.org/grpc"
)

const (
	KindComplete = "complete"
	KindFail     = "fail"
	KindThrow    = "throw"
)

// Command is one job command that reached the gateway successfully.
type Command struct {
	Kind         string
	JobKey       int64
	Retries      int32
	ErrorCode    string
	ErrorMessage string
	Variables    string
}

// JobClient records complete, fail and throw commands. A call on a done
// context fails with the context error. Any other gateway call panics.
type JobClient struct {
	pb.GatewayClient

	mu       sync.Mutex
	commands []Command
	attempts int
	failures int
	err      error
}

func NewJobClient() *JobClient {
	return &JobClient{}
}

// FailNext makes the next n gateway calls return err.
func (c *JobClient) FailNext(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
	c.err = err
}

func (c *JobClient) Commands() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Command, len(c.commands))
	copy(out, c.commands)
	return out
}

// Attempts counts every gateway call, failed ones included.
func (c *JobClient) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *JobClient) NewCompleteJobCommand() commands.CompleteJobCommandStep1 {
	return commands.NewCompleteJobCommand(c, noRetry)
}

func (c *JobClient) NewFailJobCommand() commands.FailJobCommandStep1 {
	return commands.NewFailJobCommand(c, noRetry)
}

func (c *JobClient) NewThrowErrorCommand() commands.ThrowErrorCommandStep1 {
	return commands.NewThrowErrorCommand(c, noRetry)
}

func (c *JobClient) CompleteJob(ctx context.Context, in *pb.CompleteJobRequest, _ ...grpc.CallOption) (*pb.CompleteJobResponse, error) {
	if err := c.record(ctx, Command{Kind: KindComplete, JobKey: in.JobKey, Variables: in.Variables}); err != nil {
		return nil, err
	}
	return &pb.CompleteJobResponse{}, nil
}

func (c *JobClient) FailJob(ctx context.Context, in *pb.FailJobRequest, _ ...grpc.CallOption) (*pb.FailJobResponse, error) {
	err := c.record(ctx, Command{
		Kind:         KindFail,
		JobKey:       in.JobKey,
		Retries:      in.Retries,
		ErrorMessage: in.ErrorMessage,
		Variables:    in.Variables,
	})
	if err != nil {
		return nil, err
	}
	return &pb.FailJobResponse{}, nil
}

func (c *JobClient) ThrowError(ctx context.Context, in *pb.ThrowErrorRequest, _ ...grpc.CallOption) (*pb.ThrowErrorResponse, error) {
	err := c.record(ctx, Command{
		Kind:         KindThrow,
		JobKey:       in.JobKey,
		ErrorCode:    in.ErrorCode,
		ErrorMessage: in.ErrorMessage,
		Variables:    in.Variables,
	})
	if err != nil {
		return nil, err
	}
	return &pb.ThrowErrorResponse{}, nil
}

func (c *JobClient) record(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.failures > 0 {
		c.failures--
		return c.err
	}
	c.commands = append(c.commands, cmd)
	return nil
}

func noRetry(context.Context, error) bool { return false }
