// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/relink/internal/services/dedupe"
)

const namespace = "relink"

// MetricsManager holds the gauges describing the last run.
type MetricsManager struct {
	registry *prometheus.Registry

	filesScanned    *prometheus.GaugeVec
	duplicateGroups *prometheus.GaugeVec
	linksCreated    *prometheus.GaugeVec
	bytesReclaimed  *prometheus.GaugeVec
	errors          *prometheus.GaugeVec
	duration        *prometheus.GaugeVec
	lastRun         *prometheus.GaugeVec
}

func NewMetricsManager() *MetricsManager {
	registry := prometheus.NewRegistry()

	gauge := func(name, help string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"dry_run"})
		registry.MustRegister(g)
		return g
	}

	return &MetricsManager{
		registry:        registry,
		filesScanned:    gauge("files_scanned", "Regular files seen by the last run."),
		duplicateGroups: gauge("duplicate_groups", "Groups of identical files found by the last run."),
		linksCreated:    gauge("links_created", "Paths relinked (or planned in a dry run) by the last run."),
		bytesReclaimed:  gauge("bytes_reclaimed", "Bytes of storage freed by the last run."),
		errors:          gauge("errors", "Per-file errors recorded by the last run."),
		duration:        gauge("run_duration_seconds", "Wall time of the last run."),
		lastRun:         gauge("last_run_timestamp_seconds", "Unix time the last run finished."),
	}
}

func (m *MetricsManager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Observe records a finished run.
func (m *MetricsManager) Observe(rep *dedupe.Report, finished time.Time) {
	label := strconv.FormatBool(rep.DryRun)

	m.filesScanned.WithLabelValues(label).Set(float64(rep.FilesScanned))
	m.duplicateGroups.WithLabelValues(label).Set(float64(rep.DuplicateGroups))
	m.linksCreated.WithLabelValues(label).Set(float64(rep.LinksCreated))
	m.bytesReclaimed.WithLabelValues(label).Set(float64(rep.BytesReclaimed))
	m.errors.WithLabelValues(label).Set(float64(len(rep.Errors)))
	m.duration.WithLabelValues(label).Set(rep.Elapsed.Seconds())
	m.lastRun.WithLabelValues(label).Set(float64(finished.Unix()))
}

// WriteTextfile writes the registry in the node exporter textfile format.
func (m *MetricsManager) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics file %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("Metrics written")
	return nil
}
