// Package telemetry records OpenTelemetry counters and log events for the
// fleet's significant operations: spawn, wake, force-kill, mass-death
// alert, handoff. Recording never blocks or fails the calling operation;
// every Record function is fire-and-forget.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/foreman-hq/fleet"
	loggerName = "fleet"
)

type instruments struct {
	spawnTotal        metric.Int64Counter
	stopTotal         metric.Int64Counter
	recoverTotal      metric.Int64Counter
	wakeTotal         metric.Int64Counter
	forceKillTotal    metric.Int64Counter
	massDeathTotal    metric.Int64Counter
	handoffTotal      metric.Int64Counter
	autoSuspendTotal  metric.Int64Counter
	wakeLatencyHist   metric.Float64Histogram
}

var (
	once sync.Once
	inst instruments
)

func initInstruments() {
	once.Do(func() {
		m := otel.GetMeterProvider().Meter(meterName)

		inst.spawnTotal, _ = m.Int64Counter("fleet.agent.spawns.total",
			metric.WithDescription("Total agent spawn attempts"),
		)
		inst.stopTotal, _ = m.Int64Counter("fleet.agent.stops.total",
			metric.WithDescription("Total agent stop calls"),
		)
		inst.recoverTotal, _ = m.Int64Counter("fleet.agent.recoveries.total",
			metric.WithDescription("Total crash-recovery attempts"),
		)
		inst.wakeTotal, _ = m.Int64Counter("fleet.specialist.wakes.total",
			metric.WithDescription("Total specialist wake attempts"),
		)
		inst.forceKillTotal, _ = m.Int64Counter("fleet.specialist.force_kills.total",
			metric.WithDescription("Total Deacon force-kills of a specialist"),
		)
		inst.massDeathTotal, _ = m.Int64Counter("fleet.deacon.mass_death_alerts.total",
			metric.WithDescription("Total mass-death alerts raised"),
		)
		inst.handoffTotal, _ = m.Int64Counter("fleet.handoff.total",
			metric.WithDescription("Total handoff operations"),
		)
		inst.autoSuspendTotal, _ = m.Int64Counter("fleet.agent.auto_suspends.total",
			metric.WithDescription("Total Deacon auto-suspends of an idle agent"),
		)
		inst.wakeLatencyHist, _ = m.Float64Histogram("fleet.specialist.wake_latency_ms",
			metric.WithDescription("Time from wake issued to task completion acknowledged"),
			metric.WithUnit("ms"),
		)
	})
}

func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

func errKV(err error) otellog.KeyValue {
	if err == nil {
		return otellog.String("error", "")
	}
	return otellog.String("error", err.Error())
}

func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// RecordSpawn records an agent spawn attempt.
func RecordSpawn(ctx context.Context, agentID, runtime string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.spawnTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("runtime", runtime),
	))
	emit(ctx, "agent.spawn", severity(err),
		otellog.String("agent_id", agentID),
		otellog.String("runtime", runtime),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordStop records an agent stop call.
func RecordStop(ctx context.Context, agentID string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.stopTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	emit(ctx, "agent.stop", severity(err),
		otellog.String("agent_id", agentID),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordRecover records a crash-recovery attempt.
func RecordRecover(ctx context.Context, agentID string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.recoverTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	emit(ctx, "agent.recover", severity(err),
		otellog.String("agent_id", agentID),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordWake records a specialist wake attempt.
func RecordWake(ctx context.Context, role, source string, queued bool, err error) {
	initInstruments()
	status := statusStr(err)
	inst.wakeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("role", role),
		attribute.Bool("queued", queued),
	))
	emit(ctx, "specialist.wake", severity(err),
		otellog.String("role", role),
		otellog.String("source", source),
		otellog.Bool("queued", queued),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordWakeLatency records the time between a wake being issued and its
// task being marked complete.
func RecordWakeLatency(ctx context.Context, role string, latencyMs float64) {
	initInstruments()
	inst.wakeLatencyHist.Record(ctx, latencyMs, metric.WithAttributes(attribute.String("role", role)))
}

// RecordForceKill records a Deacon force-kill of a specialist.
func RecordForceKill(ctx context.Context, role string, consecutiveFailures int) {
	initInstruments()
	inst.forceKillTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
	emit(ctx, "specialist.force_kill", otellog.SeverityWarn,
		otellog.String("role", role),
		otellog.Int64("consecutive_failures", int64(consecutiveFailures)),
	)
}

// RecordMassDeathAlert records a mass-death alert.
func RecordMassDeathAlert(ctx context.Context, deathCount int) {
	initInstruments()
	inst.massDeathTotal.Add(ctx, 1)
	emit(ctx, "deacon.mass_death_alert", otellog.SeverityError,
		otellog.Int64("death_count", int64(deathCount)),
	)
}

// RecordAutoSuspend records the Deacon auto-suspending an idle agent.
func RecordAutoSuspend(ctx context.Context, agentID string, idleFor float64) {
	initInstruments()
	inst.autoSuspendTotal.Add(ctx, 1)
	emit(ctx, "agent.auto_suspend", otellog.SeverityInfo,
		otellog.String("agent_id", agentID),
		otellog.Float64("idle_ms", idleFor),
	)
}

// RecordHandoff records a handoff operation.
func RecordHandoff(ctx context.Context, agentID, targetModel, mode string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.handoffTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("mode", mode),
	))
	emit(ctx, "handoff", severity(err),
		otellog.String("agent_id", agentID),
		otellog.String("target_model", targetModel),
		otellog.String("mode", mode),
		otellog.String("status", status),
		errKV(err),
	)
}
