package gateway

import (
	"encoding/json"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f := frame{Type: "req", ID: "1", Method: "task.run", Params: json.RawMessage(`{"text":"hi"}`)}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded frame
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Method != "task.run" {
		t.Fatalf("method = %q, want task.run", decoded.Method)
	}
	var params runParams
	if err := json.Unmarshal(decoded.Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params.Text != "hi" {
		t.Fatalf("text = %q, want hi", params.Text)
	}
}

func TestApplyCheckpointParams(t *testing.T) {
	var params applyCheckpointParams
	if err := json.Unmarshal([]byte(`{"id":"abc123"}`), &params); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if params.ID != "abc123" {
		t.Fatalf("id = %q, want abc123", params.ID)
	}
}
