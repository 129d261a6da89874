package db

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func fixedStats() PoolStats {
	return PoolStats{Total: 3, Idle: 2, Acquired: 1, Max: 5}
}

func TestPoolStatsCollector_Describe(t *testing.T) {
	collector := NewPoolStatsCollector(fixedStats, "boxbridge")

	ch := make(chan *prometheus.Desc, 10)
	collector.Describe(ch)
	close(ch)

	var descs []string
	for desc := range ch {
		descs = append(descs, desc.String())
	}

	if len(descs) != 4 {
		t.Fatalf("expected 4 descriptors, got %d", len(descs))
	}

	expectedNames := []string{
		"boxbridge_db_pool_total_conns",
		"boxbridge_db_pool_idle_conns",
		"boxbridge_db_pool_acquired_conns",
		"boxbridge_db_pool_max_conns",
	}
	for i, name := range expectedNames {
		if !strings.Contains(descs[i], name) {
			t.Errorf("descriptor %d = %s, want %s", i, descs[i], name)
		}
	}
}

func TestPoolStatsCollector_Collect(t *testing.T) {
	collector := NewPoolStatsCollector(fixedStats, "boxbridge")

	expected := `
		# HELP boxbridge_db_pool_idle_conns Number of idle connections in the pool
		# TYPE boxbridge_db_pool_idle_conns gauge
		boxbridge_db_pool_idle_conns 2
		# HELP boxbridge_db_pool_max_conns Maximum number of connections allowed in the pool
		# TYPE boxbridge_db_pool_max_conns gauge
		boxbridge_db_pool_max_conns 5
	`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"boxbridge_db_pool_idle_conns", "boxbridge_db_pool_max_conns"); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestPoolStatsCollector_NilStats(t *testing.T) {
	collector := NewPoolStatsCollector(nil, "boxbridge")

	if n := testutil.CollectAndCount(collector); n != 0 {
		t.Errorf("expected no metrics without stats, got %d", n)
	}
}

func TestPoolStatsCollector_Register(t *testing.T) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(NewPoolStatsCollector(fixedStats, "boxbridge")); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := reg.Register(NewPoolStatsCollector(fixedStats, "boxbridge"))
	if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
		t.Errorf("expected AlreadyRegisteredError, got %v", err)
	}
}
