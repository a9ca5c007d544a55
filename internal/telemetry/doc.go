// Package telemetry wires OpenTelemetry tracing and metric export for
// mediasearch.
//
// New builds OTLP (gRPC or HTTP/protobuf) providers and installs them
// globally, so the package-level tracers in ingest, dispatch and search need
// no wiring. Recorder keeps spans and metrics in memory for tests.
package telemetry
