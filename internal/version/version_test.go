package version

import (
	"runtime/debug"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func buildInfo(main string, settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{GoVersion: "go1.24.3", Main: debug.Module{Version: main}, Settings: settings}, true
	}
}

func TestResolvePrefersLdflags(t *testing.T) {
	b := resolve("v1.2.0", "abc123", "2026-01-01", buildInfo("v9.9.9",
		debug.BuildSetting{Key: "vcs.revision", Value: "fffff"},
		debug.BuildSetting{Key: "vcs.time", Value: "2020-01-01T00:00:00Z"},
	))
	if b.Version != "v1.2.0" || b.Commit != "abc123" || b.Date != "2026-01-01" {
		t.Fatalf("ldflags values must win, got %+v", b)
	}
	if b.GoVersion != "go1.24.3" {
		t.Fatalf("unexpected go version %q", b.GoVersion)
	}
}

func TestResolveFallsBackToVCS(t *testing.T) {
	b := resolve("dev", unknown, unknown, buildInfo("(devel)",
		debug.BuildSetting{Key: "vcs.revision", Value: "deadbeef"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-02-03T04:05:06Z"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	))
	want := Build{Version: "dev", Commit: "deadbeef", Date: "2026-02-03T04:05:06Z", GoVersion: "go1.24.3", Modified: true}
	if b != want {
		t.Fatalf("got %+v, want %+v", b, want)
	}

	b = resolve("dev", unknown, unknown, buildInfo("v0.4.1"))
	if b.Version != "v0.4.1" {
		t.Fatalf("module version should replace dev, got %q", b.Version)
	}
}

func TestResolveWithoutBuildInfo(t *testing.T) {
	b := resolve("dev", unknown, unknown, func() (*debug.BuildInfo, bool) { return nil, false })
	if b.Commit != unknown || b.Date != unknown || b.GoVersion == "" {
		t.Fatalf("unexpected build %+v", b)
	}
}

func TestCurrentIsStable(t *testing.T) {
	if Current() != Current() {
		t.Fatal("Current must be computed once")
	}
	if GetVersion() == "" {
		t.Fatal("version must not be empty")
	}
	s := Current().String()
	if !strings.HasPrefix(s, ServiceName+" version=") || !strings.Contains(s, " go=") {
		t.Fatalf("unexpected string %q", s)
	}
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(Collector()); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil || len(families) != 1 {
		t.Fatalf("expected one metric family, got %d (%v)", len(families), err)
	}
	metric := families[0].GetMetric()[0]
	if families[0].GetName() != "payflow_build_info" || metric.GetGauge().GetValue() != 1 {
		t.Fatalf("unexpected family %s", families[0].String())
	}
}
