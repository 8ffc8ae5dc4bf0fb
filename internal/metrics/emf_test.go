package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewFunctionNameDimension(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "licorice-web")
	r := New(Namespace)
	if r.dimensions["FunctionName"] != "licorice-web" {
		t.Errorf("FunctionName dimension = %q", r.dimensions["FunctionName"])
	}
}

func TestFlushOutput(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	var buf bytes.Buffer

	New(Namespace).
		WithWriter(&buf).
		Dimension("Outcome", "done").
		Metric("InvocationMs", 321.5, UnitMilliseconds).
		Metric("RenditionBytes", 2048, UnitBytes).
		Count("Invocations").
		Property("destKey", "licorice-photos/x.jpg").
		Flush()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}

	aws, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive")
	}
	if _, ok := aws["Timestamp"]; !ok {
		t.Error("missing Timestamp")
	}
	cw := aws["CloudWatchMetrics"].([]any)[0].(map[string]any)
	if cw["Namespace"] != Namespace {
		t.Errorf("Namespace = %v", cw["Namespace"])
	}
	if n := len(cw["Metrics"].([]any)); n != 3 {
		t.Errorf("got %d metric definitions, want 3", n)
	}

	if doc["Outcome"] != "done" {
		t.Errorf("Outcome = %v", doc["Outcome"])
	}
	if doc["InvocationMs"] != 321.5 {
		t.Errorf("InvocationMs = %v", doc["InvocationMs"])
	}
	if doc["Invocations"] != float64(1) {
		t.Errorf("Invocations = %v", doc["Invocations"])
	}
	if doc["destKey"] != "licorice-photos/x.jpg" {
		t.Errorf("destKey = %v", doc["destKey"])
	}
}

func TestFlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	New("Test").WithWriter(&buf).Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %s", buf.String())
	}
}
