// Package internaldefs names the exported metric families so the Prometheus
// and OpenTelemetry exporters expose the same series.
package internaldefs
