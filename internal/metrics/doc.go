// Package metrics defines the Prometheus collectors exported by the service.
package metrics
