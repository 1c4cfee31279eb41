// Package observability provides logging and metrics support for the
// Unpaywall client.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "console",
//	}, os.Stdout, os.Stderr)
//	logger = observability.WithBackend(logger, "cache")
//
// Service failures swallowed under the "ignore" error mode are logged at
// warn level with the doi and error fields.
//
// # Metrics
//
// Metrics are registered with the given registerer:
//
//	metrics := observability.NewMetrics("unpaywall", prometheus.DefaultRegisterer)
//	metrics.RecordCacheLookup(observability.CacheHit)
//
// A nil *Metrics is valid and records nothing, so components accept an
// optional metrics instance.
//
// # Standard Fields
//
//   - doi: the identifier being looked up
//   - backend: cache, remote or snapshot
//   - component: the emitting component (cache, source, lookup, server, scheduler)
//   - request_id: HTTP request identifier in serve mode
package observability
