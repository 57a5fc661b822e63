package models

import "testing"

func intp(v int) *int { return &v }

func TestTokenUsage_SumTotals(t *testing.T) {
	u1 := TokenUsage{Input: InputUsage{Total: 10}, Output: OutputUsage{Total: 5}, Total: 15}
	u2 := TokenUsage{Input: InputUsage{Total: 20}, Output: OutputUsage{Total: 7}, Total: 27}

	sum := u1.Sum(u2)
	if sum.Total != u1.Total+u2.Total {
		t.Errorf("sum.Total = %d, want %d", sum.Total, u1.Total+u2.Total)
	}
	if sum.Input.Total != 30 || sum.Output.Total != 12 {
		t.Errorf("unexpected sum: %+v", sum)
	}
}

func TestTokenUsage_OptionalSubfieldsUndefinedOnlyIfBothUndefined(t *testing.T) {
	// both nil -> nil
	u1 := TokenUsage{}
	u2 := TokenUsage{}
	if sum := u1.Sum(u2); sum.Input.CacheCreation != nil {
		t.Errorf("expected nil CacheCreation when both nil, got %v", *sum.Input.CacheCreation)
	}

	// one set -> defined, treating the missing side as 0
	u3 := TokenUsage{Input: InputUsage{CacheCreation: intp(5)}}
	u4 := TokenUsage{}
	sum := u3.Sum(u4)
	if sum.Input.CacheCreation == nil {
		t.Fatalf("expected defined CacheCreation when one operand set it")
	}
	if *sum.Input.CacheCreation != 5 {
		t.Errorf("sum.Input.CacheCreation = %d, want 5", *sum.Input.CacheCreation)
	}

	// both set -> summed
	u5 := TokenUsage{Output: OutputUsage{Thinking: intp(3)}}
	u6 := TokenUsage{Output: OutputUsage{Thinking: intp(4)}}
	sum2 := u5.Sum(u6)
	if sum2.Output.Thinking == nil || *sum2.Output.Thinking != 7 {
		t.Errorf("expected summed Thinking=7, got %v", sum2.Output.Thinking)
	}
}
