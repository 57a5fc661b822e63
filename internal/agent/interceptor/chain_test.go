package interceptor

import (
	"context"
	"errors"
	"testing"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

type fakeInterceptor struct {
	name   string
	result Result
	err    error
	calls  int
}

func (f *fakeInterceptor) Name() string { return f.name }

func (f *fakeInterceptor) Intercept(ctx context.Context, ictx *Context) (Result, error) {
	f.calls++
	return f.result, f.err
}

func newTestContext() *Context {
	msgs := []models.Message{}
	return &Context{Messages: &msgs}
}

func TestChainShortCircuitsOnContinue(t *testing.T) {
	first := &fakeInterceptor{name: "first", result: Complete()}
	second := &fakeInterceptor{name: "second", result: Continue("needs another turn")}
	third := &fakeInterceptor{name: "third", result: Complete()}

	chain := NewChain(first, second, third)
	ictx := newTestContext()

	decision, err := chain.Execute(context.Background(), ictx, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if decision != models.InterceptorContinue {
		t.Fatalf("expected continue, got %v", decision)
	}
	if third.calls != 0 {
		t.Fatal("expected third interceptor not to run after second returned continue")
	}
	if len(*ictx.Messages) != 1 {
		t.Fatalf("expected synthetic reasoning message appended, got %d messages", len(*ictx.Messages))
	}
}

func TestChainCompletesWhenAllComplete(t *testing.T) {
	first := &fakeInterceptor{name: "first", result: Complete()}
	second := &fakeInterceptor{name: "second", result: Complete()}

	chain := NewChain(first, second)
	decision, err := chain.Execute(context.Background(), newTestContext(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if decision != models.InterceptorComplete {
		t.Fatalf("expected complete, got %v", decision)
	}
}

func TestChainContinuesPastInterceptorError(t *testing.T) {
	failing := &fakeInterceptor{name: "failing", err: errors.New("boom")}
	after := &fakeInterceptor{name: "after", result: Complete()}

	chain := NewChain(failing, after)
	decision, err := chain.Execute(context.Background(), newTestContext(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if decision != models.InterceptorComplete {
		t.Fatalf("expected complete, got %v", decision)
	}
	if after.calls != 1 {
		t.Fatal("expected chain to continue with the next interceptor after a failure")
	}
}

func TestChainAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ic := &fakeInterceptor{name: "never", result: Complete()}
	chain := NewChain(ic)

	_, err := chain.Execute(ctx, newTestContext(), nil)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if ic.calls != 0 {
		t.Fatal("expected no interceptor to run once ctx is already cancelled")
	}
}

func TestChainSkipsSyntheticMessageWhenInterceptorAppendedItsOwn(t *testing.T) {
	self := &fakeInterceptorAppending{name: "self-appending"}
	chain := NewChain(self)
	ictx := newTestContext()

	if _, err := chain.Execute(context.Background(), ictx, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(*ictx.Messages) != 1 {
		t.Fatalf("expected exactly the interceptor's own message, got %d", len(*ictx.Messages))
	}
}

type fakeInterceptorAppending struct{ name string }

func (f *fakeInterceptorAppending) Name() string { return f.name }

func (f *fakeInterceptorAppending) Intercept(ctx context.Context, ictx *Context) (Result, error) {
	*ictx.Messages = append(*ictx.Messages, models.NewUserMessage(models.TextBlock("already appended")))
	return Continue("ignored since a message was already appended"), nil
}
