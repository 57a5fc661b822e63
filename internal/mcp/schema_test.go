package mcp

import "testing"

func TestSchemaValidatorAcceptsValidInput(t *testing.T) {
	v := newSchemaValidator()
	schema := []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`)
	if err := v.validate("read_file", schema, []byte(`{"path":"a.txt"}`)); err != nil {
		t.Fatalf("expected valid input to pass, got %v", err)
	}
}

func TestSchemaValidatorRejectsMissingRequired(t *testing.T) {
	v := newSchemaValidator()
	schema := []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`)
	if err := v.validate("read_file", schema, []byte(`{}`)); err == nil {
		t.Fatal("expected validation error for missing required field")
	}
}

func TestSchemaValidatorNoSchemaIsNoOp(t *testing.T) {
	v := newSchemaValidator()
	if err := v.validate("anything", nil, []byte(`{"whatever":true}`)); err != nil {
		t.Fatalf("expected no-op for empty schema, got %v", err)
	}
}

func TestSchemaValidatorCachesCompiledSchema(t *testing.T) {
	v := newSchemaValidator()
	schema := []byte(`{"type":"object"}`)
	if err := v.validate("tool", schema, []byte(`{}`)); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if _, ok := v.cached["tool"]; !ok {
		t.Fatal("expected schema to be cached after first validate")
	}
	if err := v.validate("tool", schema, []byte(`{}`)); err != nil {
		t.Fatalf("second validate: %v", err)
	}
}
