// Package prometheus serves engine metrics in the Prometheus text format.
// Mount [Exporter.Handler] on any router; there is no registry to manage.
package prometheus
