package models

// InputUsage is the nested input half of a TokenUsage. CacheCreation and
// CacheRead are optional: they stay nil unless the provider reported them.
type InputUsage struct {
	Total         int  `json:"total"`
	CacheCreation *int `json:"cacheCreation,omitempty"`
	CacheRead     *int `json:"cacheRead,omitempty"`
}

// OutputUsage is the nested output half of a TokenUsage. Thinking is
// optional: it stays nil unless extended-thinking tokens were reported.
type OutputUsage struct {
	Total    int  `json:"total"`
	Thinking *int `json:"thinking,omitempty"`
}

// TokenUsage aggregates input/output token counts for one model call or for
// an entire task. Two usages are summed field-wise; an optional subfield in
// the sum stays nil iff the corresponding subfield is nil on both operands.
type TokenUsage struct {
	Input  InputUsage  `json:"input"`
	Output OutputUsage `json:"output"`
	Total  int         `json:"total"`
}

func sumOptional(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	var av, bv int
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	sum := av + bv
	return &sum
}

// Sum returns a new TokenUsage that is the field-wise sum of u and other.
func (u TokenUsage) Sum(other TokenUsage) TokenUsage {
	return TokenUsage{
		Input: InputUsage{
			Total:         u.Input.Total + other.Input.Total,
			CacheCreation: sumOptional(u.Input.CacheCreation, other.Input.CacheCreation),
			CacheRead:     sumOptional(u.Input.CacheRead, other.Input.CacheRead),
		},
		Output: OutputUsage{
			Total:    u.Output.Total + other.Output.Total,
			Thinking: sumOptional(u.Output.Thinking, other.Output.Thinking),
		},
		Total: u.Total + other.Total,
	}
}
