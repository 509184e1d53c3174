// Package telemetry provides logging, status events, metrics and tracing for
// provisioning runs.
//
// Components report progress through a Sink; the command layer wires an
// EventPublisher whose subscribers log, journal and count what happens.
// Metrics live in a private Prometheus registry that can be written to a
// node-exporter textfile at the end of a run. Tracing wraps every workflow
// step in an OpenTelemetry span.
package telemetry
