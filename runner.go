package taskrun

import (
	"context"
	"errors"
	"io"
)

// Run executes one task synchronously and returns its result. Recorded
// per-turn errors do not fail the run; the returned error is reserved for
// provider failures, registry misconfiguration, cancellation and an
// exhausted attempt budget.
func Run(ctx context.Context, req TaskRequest) (TaskResult, error) {
	stream, err := RunStreamed(ctx, req)
	if err != nil {
		return TaskResult{}, err
	}
	defer stream.Close()

	for {
		_, err := stream.Next(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		return TaskResult{}, err
	}

	res, err := stream.Result()
	if res == nil {
		return TaskResult{}, err
	}
	return *res, err
}
