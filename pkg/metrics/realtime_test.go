package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRealtimeMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewRealtimeMetrics(reg)
	topic := "tickets.assigned"
	metrics.ObserveBroadcast(topic, 250*time.Millisecond)
	metrics.IncDelivery(topic)
	metrics.IncDeliveryFailure(topic)
	metrics.IncEviction()
	metrics.IncPublishRetry()
	metrics.IncResync(topic)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "connection_deliveries", "topic", topic); err != nil {
		t.Fatalf("fetch deliveries: %v", err)
	} else if got != 1 {
		t.Fatalf("expected deliveries=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "connection_delivery_failures", "topic", topic); err != nil {
		t.Fatalf("fetch failures: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failures=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "broadcast_duration_seconds", "topic", topic); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilRegistererIsSafe(t *testing.T) {
	metrics := NewRealtimeMetrics(nil)
	metrics.ObserveBroadcast("t", time.Second)
	metrics.IncDelivery("t")
	metrics.IncEviction()

	assignment := NewAssignmentMetrics(nil)
	assignment.ObserveDuration(time.Second)
	assignment.IncAssigned()
	assignment.IncConflict()
}

func TestAssignmentMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewAssignmentMetrics(reg)
	metrics.IncAssigned()
	metrics.IncAssigned()
	metrics.IncConflict()
	metrics.IncDeferred()
	metrics.ObserveDuration(10 * time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf := findMetricFamily(mfs, "assignments_total")
	if mf == nil || len(mf.GetMetric()) != 1 {
		t.Fatal("assignments_total not exported")
	}
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected assignments_total=2, got %f", got)
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
