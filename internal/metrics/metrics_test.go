package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

// findMetric returns the sample whose label set matches labels exactly,
// ignoring label order.
func findMetric(t *testing.T, mf *dto.MetricFamily, labels map[string]string) *dto.Metric {
	t.Helper()
	require.NotNil(t, mf)
	for _, m := range mf.GetMetric() {
		if len(m.GetLabel()) != len(labels) {
			continue
		}
		match := true
		for _, lp := range m.GetLabel() {
			if labels[lp.GetName()] != lp.GetValue() {
				match = false
				break
			}
		}
		if match {
			return m
		}
	}
	t.Fatalf("no %s sample with labels %v", mf.GetName(), labels)
	return nil
}

func TestRecordedOutcomesReachTheScrape(t *testing.T) {
	prom := prometheus.NewRegistry()
	reg := New(prom)

	reg.RecordAdmit(10 * time.Millisecond)
	reg.RecordReject("gate_breakout", 5*time.Millisecond)
	reg.RecordReject("gate_breakout", 7*time.Millisecond)
	reg.RecordReject("gate_pattern", 3*time.Millisecond)
	reg.RecordUnavailable("gate_sector_regime")
	reg.RecordDenial("max_positions")
	reg.RecordExit("stop_loss")
	reg.RecordAlert("entry")

	families := gather(t, prom)

	admits := findMetric(t, families["equityrun_admits_total"], nil)
	assert.Equal(t, 1.0, admits.GetCounter().GetValue())

	breakout := findMetric(t, families["equityrun_rejects_total"],
		map[string]string{"gate": "gate_breakout"})
	assert.Equal(t, 2.0, breakout.GetCounter().GetValue())

	pattern := findMetric(t, families["equityrun_rejects_total"],
		map[string]string{"gate": "gate_pattern"})
	assert.Equal(t, 1.0, pattern.GetCounter().GetValue())

	unavailable := findMetric(t, families["equityrun_unavailable_total"],
		map[string]string{"check": "gate_sector_regime"})
	assert.Equal(t, 1.0, unavailable.GetCounter().GetValue())

	denied := findMetric(t, families["equityrun_denials_total"],
		map[string]string{"reason": "max_positions"})
	assert.Equal(t, 1.0, denied.GetCounter().GetValue())

	exits := findMetric(t, families["equityrun_exits_total"],
		map[string]string{"reason": "stop_loss"})
	assert.Equal(t, 1.0, exits.GetCounter().GetValue())

	alerts := findMetric(t, families["equityrun_alerts_published_total"],
		map[string]string{"kind": "entry"})
	assert.Equal(t, 1.0, alerts.GetCounter().GetValue())

	admitEval := findMetric(t, families["equityrun_eval_duration_seconds"],
		map[string]string{"result": "admit"})
	assert.Equal(t, uint64(1), admitEval.GetHistogram().GetSampleCount())

	rejectEval := findMetric(t, families["equityrun_eval_duration_seconds"],
		map[string]string{"result": "reject"})
	assert.Equal(t, uint64(3), rejectEval.GetHistogram().GetSampleCount())
}

func TestCycleTimerTracksActiveGauge(t *testing.T) {
	prom := prometheus.NewRegistry()
	reg := New(prom)

	timer := reg.StartCycle()

	mid := gather(t, prom)
	assert.Equal(t, 1.0, findMetric(t, mid["equityrun_scan_active"], nil).GetGauge().GetValue())
	assert.Equal(t, 1.0, findMetric(t, mid["equityrun_scans_total"], nil).GetCounter().GetValue())

	timer.Stop(3, 1)

	after := gather(t, prom)
	assert.Equal(t, 0.0, findMetric(t, after["equityrun_scan_active"], nil).GetGauge().GetValue())
	duration := findMetric(t, after["equityrun_scan_duration_seconds"], nil)
	assert.Equal(t, uint64(1), duration.GetHistogram().GetSampleCount())
}

func TestExposureAndLedgerGauges(t *testing.T) {
	prom := prometheus.NewRegistry()
	reg := New(prom)

	reg.SetExposure(2, 3)
	reg.SetLedger(-120.5, 80.25, true)

	families := gather(t, prom)
	assert.Equal(t, 2.0, findMetric(t, families["equityrun_pending_positions"], nil).GetGauge().GetValue())
	assert.Equal(t, 3.0, findMetric(t, families["equityrun_open_positions"], nil).GetGauge().GetValue())
	assert.Equal(t, 1.0, findMetric(t, families["equityrun_halted"], nil).GetGauge().GetValue())
	assert.Equal(t, -120.5, findMetric(t, families["equityrun_day_pnl"], nil).GetGauge().GetValue())
	assert.Equal(t, 80.25, findMetric(t, families["equityrun_week_pnl"], nil).GetGauge().GetValue())

	reg.SetLedger(0, 0, false)
	families = gather(t, prom)
	assert.Equal(t, 0.0, findMetric(t, families["equityrun_halted"], nil).GetGauge().GetValue())
}

func TestHandlerServesExposition(t *testing.T) {
	prom := prometheus.NewRegistry()
	reg := New(prom)
	reg.RecordAdmit(time.Millisecond)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "equityrun_admits_total 1")
}
