package models

import "testing"

func TestTaskEventID_RoundTrip(t *testing.T) {
	cases := []string{"task_1713542530123_0", "task_0_0", "task_9999999999999_42"}
	for _, s := range cases {
		id, err := ParseTaskEventID(s)
		if err != nil {
			t.Fatalf("ParseTaskEventID(%q) error: %v", s, err)
		}
		if got := id.String(); got != s {
			t.Errorf("round trip mismatch: parse(%q).String() = %q", s, got)
		}
	}
}

func TestTaskEventID_ParseRejectsInvalid(t *testing.T) {
	invalid := []string{"", "task_1_", "task__1", "nottask_1_1", "task_1_1_2", "task_-1_0"}
	for _, s := range invalid {
		if _, err := ParseTaskEventID(s); err == nil {
			t.Errorf("ParseTaskEventID(%q) expected error, got nil", s)
		}
	}
}

func TestTaskEventID_Compare(t *testing.T) {
	a := TaskEventID{TimestampMs: 100, Sequence: 0}
	b := TaskEventID{TimestampMs: 100, Sequence: 1}
	c := TaskEventID{TimestampMs: 101, Sequence: 0}

	if !a.Less(b) {
		t.Errorf("expected %v < %v", a, b)
	}
	if !b.Less(c) {
		t.Errorf("expected %v < %v", b, c)
	}
	if a.Compare(a) != 0 {
		t.Errorf("expected equal id to compare 0")
	}
	if c.Less(a) {
		t.Errorf("did not expect %v < %v", c, a)
	}
}

func TestTaskEventIDGenerator_StrictlyIncreasing(t *testing.T) {
	g := NewTaskEventIDGenerator()
	const n = 500
	ids := make([]TaskEventID, n)
	for i := 0; i < n; i++ {
		ids[i] = g.Next()
	}
	for i := 1; i < n; i++ {
		if !ids[i-1].Less(ids[i]) {
			t.Fatalf("ids[%d]=%v is not strictly before ids[%d]=%v", i-1, ids[i-1], i, ids[i])
		}
	}
}

func TestTaskEventIDGenerator_SameMillisecondIncrementsSequence(t *testing.T) {
	restore := nowMs
	nowMs = func() int64 { return 1000 }
	defer func() { nowMs = restore }()

	g := NewTaskEventIDGenerator()
	first := g.Next()
	second := g.Next()
	third := g.Next()

	if first.TimestampMs != 1000 || first.Sequence != 0 {
		t.Fatalf("unexpected first id: %v", first)
	}
	if second.Sequence != 1 || second.TimestampMs != 1000 {
		t.Fatalf("unexpected second id: %v", second)
	}
	if third.Sequence != 2 {
		t.Fatalf("unexpected third id: %v", third)
	}
}

func TestTaskEventIDGenerator_ClockAdvanceResetsSequence(t *testing.T) {
	restore := nowMs
	cur := int64(1000)
	nowMs = func() int64 { return cur }
	defer func() { nowMs = restore }()

	g := NewTaskEventIDGenerator()
	first := g.Next()
	second := g.Next() // same ms, sequence 1

	cur = 1001
	third := g.Next()

	if first.Sequence != 0 || second.Sequence != 1 {
		t.Fatalf("unexpected sequences before clock advance: %v %v", first, second)
	}
	if third.TimestampMs != 1001 || third.Sequence != 0 {
		t.Fatalf("expected sequence reset on clock advance, got %v", third)
	}
}
