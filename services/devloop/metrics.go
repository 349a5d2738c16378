// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package devloop

import (
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("lambdev.devloop")
	meter  = otel.Meter("lambdev.devloop")
)

// metrics holds the orchestrator's instruments, initialized lazily.
// Creation failures degrade gracefully: the instrument stays nil and
// recordings are skipped.
type metrics struct {
	once sync.Once

	buildsTotal   metric.Int64Counter
	buildFailures metric.Int64Counter
	buildDuration metric.Float64Histogram
	activeBuilds  metric.Int64UpDownCounter
	synthsTotal   metric.Int64Counter
	deploysTotal  metric.Int64Counter
}

func (m *metrics) init() {
	m.once.Do(func() {
		var errs []string
		var err error

		m.buildsTotal, err = meter.Int64Counter("devloop_builds_total",
			metric.WithDescription("Number of handler builds dispatched"),
		)
		if err != nil {
			errs = append(errs, "builds_total: "+err.Error())
		}

		m.buildFailures, err = meter.Int64Counter("devloop_build_failures_total",
			metric.WithDescription("Number of handler builds that failed"),
		)
		if err != nil {
			errs = append(errs, "build_failures: "+err.Error())
		}

		m.buildDuration, err = meter.Float64Histogram("devloop_build_duration_seconds",
			metric.WithDescription("Wall time of handler builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			errs = append(errs, "build_duration: "+err.Error())
		}

		m.activeBuilds, err = meter.Int64UpDownCounter("devloop_active_builds",
			metric.WithDescription("Number of builds currently in flight"),
		)
		if err != nil {
			errs = append(errs, "active_builds: "+err.Error())
		}

		m.synthsTotal, err = meter.Int64Counter("devloop_synths_total",
			metric.WithDescription("Number of infra synth invocations"),
		)
		if err != nil {
			errs = append(errs, "synths_total: "+err.Error())
		}

		m.deploysTotal, err = meter.Int64Counter("devloop_deploys_total",
			metric.WithDescription("Number of infra deploy invocations"),
		)
		if err != nil {
			errs = append(errs, "deploys_total: "+err.Error())
		}

		if len(errs) > 0 {
			slog.Warn("Metric initialization incomplete",
				slog.Any("errors", errs),
			)
		}
	})
}
