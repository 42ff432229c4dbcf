package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名・ラベルのメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if NewCollector(reg) == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordRPCCall_CountsAndObserves はRPC呼び出しの件数とレイテンシが記録されることを検証する。
func TestRecordRPCCall_CountsAndObserves(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRPCCall("get_all_properties", "OK", 20*time.Millisecond)
	c.RecordRPCCall("get_all_properties", "OK", 30*time.Millisecond)
	c.RecordRPCCall("get_all_properties", "Unavailable", time.Millisecond)

	ok := findMetric(t, reg, "coestate_rpc_calls_total", map[string]string{"method": "get_all_properties", "code": "OK"})
	if v := ok.GetCounter().GetValue(); v != 2 {
		t.Errorf("rpc_calls_total{OK} = %v, want 2", v)
	}
	unavailable := findMetric(t, reg, "coestate_rpc_calls_total", map[string]string{"code": "Unavailable"})
	if v := unavailable.GetCounter().GetValue(); v != 1 {
		t.Errorf("rpc_calls_total{Unavailable} = %v, want 1", v)
	}
	latency := findMetric(t, reg, "coestate_rpc_latency_seconds", map[string]string{"method": "get_all_properties"})
	if n := latency.GetHistogram().GetSampleCount(); n != 3 {
		t.Errorf("latency sample count = %d, want 3", n)
	}
}

// TestSessionMetrics はセッション関連のメトリクスが記録されることを検証する。
func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin(OutcomeSuccess)
	c.RecordLogin(OutcomeSuperseded)
	c.RecordLogoutRemoteFailure()
	c.RecordTrustDegraded()
	c.RecordStaleResponse("get_user_data")
	c.SetBindingGeneration(5)
	c.RecordRefresh(OutcomeFailure)

	if v := findMetric(t, reg, "coestate_login_total", map[string]string{"outcome": "superseded"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("login_total{superseded} = %v, want 1", v)
	}
	if v := findMetric(t, reg, "coestate_logout_remote_failures_total", nil).GetCounter().GetValue(); v != 1 {
		t.Errorf("logout_remote_failures_total = %v, want 1", v)
	}
	if v := findMetric(t, reg, "coestate_trust_degraded_total", nil).GetCounter().GetValue(); v != 1 {
		t.Errorf("trust_degraded_total = %v, want 1", v)
	}
	if v := findMetric(t, reg, "coestate_stale_responses_total", map[string]string{"method": "get_user_data"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("stale_responses_total = %v, want 1", v)
	}
	if v := findMetric(t, reg, "coestate_binding_generation", nil).GetGauge().GetValue(); v != 5 {
		t.Errorf("binding_generation = %v, want 5", v)
	}
	if v := findMetric(t, reg, "coestate_refresh_total", map[string]string{"outcome": "failure"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("refresh_total{failure} = %v, want 1", v)
	}
}

// TestNewCollector_DuplicateRegistrationPanics は同一レジストリへの二重登録がpanicすることを検証する。
func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}
