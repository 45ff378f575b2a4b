// Package observability provides OpenTelemetry tracing and metrics for
// workflow runs. Both observers subscribe to the workflow notification bus,
// so they never block or fail a run:
//
//	bus := events.NewEventBus()
//	observability.NewTracer().Register(bus)
//	observability.NewMetrics().Register(bus)
//	wf, _ := workflow.New(workflow.WithEventBus(bus), ...)
package observability
