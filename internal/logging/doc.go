// Package logging provides structured, context-aware logging for the EDRR
// coordinator, built on Zap.
//
// Loggers accept a context.Context on every call and automatically attach
// correlation fields: the active cycle id and recursion depth (see WithCycle)
// plus OpenTelemetry trace and span ids when a span is active. Nested
// micro-cycles therefore produce log streams that can be grouped per cycle
// and stitched to traces without the call sites doing anything extra.
package logging
