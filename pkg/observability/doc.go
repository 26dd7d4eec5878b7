// Package observability provides logging, metrics, tracing and health probes.
//
// # Logging
//
// Logger wraps logrus with a JSON formatter. Loggers derived with WithField
// share the base level, so SetLevel (driven by config hot reload) affects all
// of them:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("table", "rfis").Warn("write denied")
//
// FromContext adds request and principal IDs stored by the HTTP middleware.
//
// # Metrics
//
// Metrics registers keystone_* Prometheus collectors: authorization decisions,
// resolver cache outcomes, aggregate recomputations, enrollment outcomes,
// share resolutions and dispatcher sweeps.
//
// # Tracing
//
// InitTracing installs an OTLP/gRPC tracer provider; Tracer() is used by the
// access and derived packages to open spans.
package observability
