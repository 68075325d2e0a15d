// Package version хранит сведения о сборке. Значения задаются через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/payflow/internal/version.version=v1.2.0"
//
// Без ldflags коммит и дата берутся из VCS-меток, которые go build вшивает в бинарник.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ServiceName: имя сервиса в логах и health-ответах.
const ServiceName = "payflow"

const unknown = "unknown"

var (
	version = "dev"
	commit  = unknown
	date    = unknown
)

// Build описывает собранный бинарник.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	once    sync.Once
	current Build
)

// Current возвращает сведения о сборке; результат вычисляется один раз.
func Current() Build {
	once.Do(func() {
		current = resolve(version, commit, date, debug.ReadBuildInfo)
	})
	return current
}

func resolve(v, c, d string, read func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: v, Commit: c, Date: d, GoVersion: runtime.Version()}
	info, ok := read()
	if !ok || info == nil {
		return b
	}
	if info.GoVersion != "" {
		b.GoVersion = info.GoVersion
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == unknown && s.Value != "" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == unknown && s.Value != "" {
				b.Date = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	return b
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return Current().Version }

func (b Build) String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s go=%s", ServiceName, b.Version, b.Commit, b.Date, b.GoVersion)
}

// Collector публикует payflow_build_info со сведениями о сборке в метках.
func Collector() prometheus.Collector {
	b := Current()
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "payflow_build_info",
		Help: "Build metadata of the running payflow binary; always 1.",
		ConstLabels: prometheus.Labels{
			"version":    b.Version,
			"commit":     b.Commit,
			"go_version": b.GoVersion,
		},
	}, func() float64 { return 1 })
}
