package interceptor

import (
	"context"
	"strings"
	"testing"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

func TestErrorDetectorCompletesOnSuccess(t *testing.T) {
	ic := NewErrorDetector("true", nil, "")
	msgs := []models.Message{}
	ictx := &Context{Messages: &msgs}

	result, err := ic.Intercept(context.Background(), ictx)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if result.Decision != models.InterceptorComplete {
		t.Fatalf("expected complete, got %v", result.Decision)
	}
	if len(msgs) != 0 {
		t.Fatal("expected no message appended on success")
	}
}

func TestErrorDetectorContinuesOnFailureWithStderr(t *testing.T) {
	ic := NewErrorDetector("sh", []string{"-c", "echo boom 1>&2; exit 1"}, "")
	msgs := []models.Message{}
	ictx := &Context{Messages: &msgs}

	result, err := ic.Intercept(context.Background(), ictx)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if result.Decision != models.InterceptorContinue {
		t.Fatalf("expected continue, got %v", result.Decision)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message appended, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Text(), "boom") {
		t.Fatalf("expected captured stderr in message, got %q", msgs[0].Text())
	}
}
