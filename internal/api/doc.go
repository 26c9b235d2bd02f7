// Package api exposes the harvester's status over HTTP: health probes, the
// Prometheus registry and a JSON view of the running harvest.
package api
