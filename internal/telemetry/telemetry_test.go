package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetup_Noop(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "無効化", opts: Options{ServiceName: "coestate", Endpoint: "http://localhost:4318", Enabled: false}},
		{name: "エンドポイント未設定", opts: Options{ServiceName: "coestate", Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := otel.GetTracerProvider()

			shutdown, err := Setup(context.Background(), tt.opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if otel.GetTracerProvider() != before {
				t.Error("global tracer provider should not change")
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if err := shutdown(ctx); err != nil {
				t.Fatalf("noop shutdown should not error: %v", err)
			}
		})
	}
}

func TestSetup_CreatesProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	// 送信されないようルーティング不能なアドレスを使う
	shutdown, err := Setup(context.Background(), Options{
		ServiceName: "coestate-test",
		Endpoint:    "http://192.0.2.1:4318",
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
