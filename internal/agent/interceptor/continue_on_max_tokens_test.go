package interceptor

import (
	"context"
	"testing"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

func TestContinueOnMaxTokensContinuesThenStops(t *testing.T) {
	ic := NewContinueOnMaxTokens(2)
	msgs := []models.Message{}
	ictx := &Context{Messages: &msgs, StopReason: "max_tokens"}

	for i := 0; i < 2; i++ {
		result, err := ic.Intercept(context.Background(), ictx)
		if err != nil {
			t.Fatalf("Intercept() error = %v", err)
		}
		if result.Decision != models.InterceptorContinue {
			t.Fatalf("continuation %d: expected continue, got %v", i, result.Decision)
		}
	}

	result, err := ic.Intercept(context.Background(), ictx)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if result.Decision != models.InterceptorComplete {
		t.Fatalf("expected complete after hitting maxContinuations, got %v", result.Decision)
	}
}

func TestContinueOnMaxTokensResetsOnOtherStopReason(t *testing.T) {
	ic := NewContinueOnMaxTokens(1)
	msgs := []models.Message{}
	ictx := &Context{Messages: &msgs, StopReason: "max_tokens"}

	if _, err := ic.Intercept(context.Background(), ictx); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}

	ictx.StopReason = "end_turn"
	result, err := ic.Intercept(context.Background(), ictx)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if result.Decision != models.InterceptorComplete {
		t.Fatalf("expected complete on end_turn, got %v", result.Decision)
	}

	ictx.StopReason = "max_tokens"
	result, err = ic.Intercept(context.Background(), ictx)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if result.Decision != models.InterceptorContinue {
		t.Fatal("expected counter to have reset, allowing another continuation")
	}
}

func TestContinueOnMaxTokensUnlimited(t *testing.T) {
	ic := NewContinueOnMaxTokens(0)
	msgs := []models.Message{}
	ictx := &Context{Messages: &msgs, StopReason: "max_tokens"}

	for i := 0; i < 10; i++ {
		result, err := ic.Intercept(context.Background(), ictx)
		if err != nil {
			t.Fatalf("Intercept() error = %v", err)
		}
		if result.Decision != models.InterceptorContinue {
			t.Fatalf("iteration %d: expected unlimited continuation, got %v", i, result.Decision)
		}
	}
}
