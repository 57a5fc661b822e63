package interceptor

import (
	"context"
	"sync"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

const maxTokensStopReason = "max_tokens"

// ContinueOnMaxTokens resumes a turn truncated by the model's output-token
// limit by appending a literal "Continue" prompt, up to maxContinuations
// consecutive times (0 means unlimited). Any stop reason other than
// max_tokens resets the counter (§4.3).
type ContinueOnMaxTokens struct {
	maxContinuations int

	mu      sync.Mutex
	counter int
}

// NewContinueOnMaxTokens builds the interceptor. maxContinuations <= 0 means
// unlimited.
func NewContinueOnMaxTokens(maxContinuations int) *ContinueOnMaxTokens {
	return &ContinueOnMaxTokens{maxContinuations: maxContinuations}
}

func (c *ContinueOnMaxTokens) Name() string { return "continue_on_max_tokens" }

func (c *ContinueOnMaxTokens) Intercept(ctx context.Context, ictx *Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ictx.StopReason != maxTokensStopReason {
		c.counter = 0
		return Complete(), nil
	}
	if c.maxContinuations > 0 && c.counter >= c.maxContinuations {
		c.counter = 0
		return Complete(), nil
	}

	c.counter++
	*ictx.Messages = append(*ictx.Messages, models.NewUserMessage(models.TextBlock("Continue")))
	return Result{Decision: models.InterceptorContinue}, nil
}
