package interceptor

import (
	"context"
	"errors"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// ErrAborted is raised by Execute when ctx is cancelled before an
// interceptor in the chain runs.
var ErrAborted = errors.New("interceptor: chain aborted: context cancelled")

// EventEmitter receives the interceptor_use/result/error events the chain
// emits around each invocation (§4.3). A nil EventEmitter is a valid no-op.
type EventEmitter func(models.TaskEvent)

// Chain runs a fixed, ordered sequence of interceptors after each model
// turn. Tool Execution must be first in the default chain (§4.3's
// invariant); Chain itself does not enforce ordering beyond "whatever order
// it was constructed with" — callers build the default chain accordingly.
type Chain struct {
	interceptors []Interceptor
}

// NewChain builds a chain that runs interceptors in the given order.
func NewChain(interceptors ...Interceptor) *Chain {
	return &Chain{interceptors: interceptors}
}

// Execute runs every interceptor in registration order, short-circuiting on
// the first continue decision. It returns the chain's final decision
// (complete if every interceptor completed) or ErrAborted if ctx was
// cancelled before an interceptor ran.
func (c *Chain) Execute(ctx context.Context, ictx *Context, emit EventEmitter) (models.InterceptorDecision, error) {
	if emit == nil {
		emit = func(models.TaskEvent) {}
	}

	for _, ic := range c.interceptors {
		if err := ctx.Err(); err != nil {
			return "", ErrAborted
		}

		emit(models.TaskEvent{Type: models.TaskEventInterceptorUse, InterceptorName: ic.Name()})

		before := len(*ictx.Messages)
		result, err := ic.Intercept(ctx, ictx)
		if err != nil {
			emit(models.TaskEvent{Type: models.TaskEventInterceptorError, InterceptorName: ic.Name(), Error: err.Error()})
			continue
		}

		emit(models.TaskEvent{
			Type:            models.TaskEventInterceptorResult,
			InterceptorName: ic.Name(),
			Decision:        result.Decision,
			Reasoning:       result.Reasoning,
		})

		if result.Decision != models.InterceptorContinue {
			continue
		}

		if result.Reasoning != "" && len(*ictx.Messages) == before {
			*ictx.Messages = append(*ictx.Messages, models.NewUserMessage(models.TextBlock(result.Reasoning)))
		}
		return models.InterceptorContinue, nil
	}

	return models.InterceptorComplete, nil
}
