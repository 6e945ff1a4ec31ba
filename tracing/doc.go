// Package tracing connects the kernel to OpenTelemetry. Spans started before
// Init, or after the returned shutdown has run, go to the global no-op
// provider.
package tracing
