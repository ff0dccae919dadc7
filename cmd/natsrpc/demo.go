package main

import (
	"context"
	"time"

	"github.com/c360/natsrpc/errors"
	"github.com/c360/natsrpc/rpc"
)

// Subjects served by the demo responder, relative to the subscribe prefix.
const (
	subjectEcho     = "demo.echo"
	subjectProgress = "demo.progress"
)

const maxProgressSteps = 100

// progressJob is the request body of demo.progress.
type progressJob struct {
	Steps   int `json:"steps"`
	DelayMS int `json:"delay_ms"`
}

type progressUpdate struct {
	Step  int `json:"step"`
	Total int `json:"total"`
}

type progressResult struct {
	Steps     int   `json:"steps"`
	ElapsedMS int64 `json:"elapsed_ms"`
}

// echoHandler answers with the request payload.
func echoHandler(_ context.Context, msg *rpc.Message, reply *rpc.Handler) error {
	if reply == nil {
		return nil
	}
	return reply.Respond(nil, msg.Payload)
}

// progressHandler acks with a window long enough for one step, sends one
// update per step and finishes with a summary.
func progressHandler(ctx context.Context, msg *rpc.Message, reply *rpc.Handler) error {
	if reply == nil {
		return nil
	}

	job := progressJob{Steps: 3, DelayMS: 100}
	if err := msg.Decode(&job); err != nil {
		return reply.Respond(err, nil)
	}
	if job.Steps < 0 || job.Steps > maxProgressSteps || job.DelayMS < 0 {
		return reply.Respond(errors.WrapInvalid(errors.ErrInvalidData, "demo", "progress", "validate job"), nil)
	}

	started := time.Now()
	delay := time.Duration(job.DelayMS) * time.Millisecond
	if err := reply.Ack(2 * delay); err != nil {
		return err
	}

	for step := 1; step <= job.Steps; step++ {
		select {
		case <-ctx.Done():
			return reply.Respond(ctx.Err(), nil)
		case <-time.After(delay):
		}
		if err := reply.Update(progressUpdate{Step: step, Total: job.Steps}); err != nil {
			return err
		}
	}

	return reply.Respond(nil, progressResult{
		Steps:     job.Steps,
		ElapsedMS: time.Since(started).Milliseconds(),
	})
}
