package obs

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	if _, ok := otel.GetTextMapPropagator().(propagation.TraceContext); !ok {
		t.Errorf("expected propagation.TraceContext, got %T", otel.GetTextMapPropagator())
	}
}

func TestNewResource(t *testing.T) {
	res := NewResource(Config{ServiceName: "queuedesk", Version: "1.2.3", Environment: "test"})

	want := map[string]string{
		string(semconv.ServiceNameKey):           "queuedesk",
		string(semconv.ServiceVersionKey):        "1.2.3",
		string(semconv.DeploymentEnvironmentKey): "test",
	}
	for _, kv := range res.Attributes() {
		if v, ok := want[string(kv.Key)]; ok {
			if kv.Value.AsString() != v {
				t.Errorf("%s = %q, want %q", kv.Key, kv.Value.AsString(), v)
			}
			delete(want, string(kv.Key))
		}
	}
	if len(want) != 0 {
		t.Errorf("missing attributes: %v", want)
	}
}
