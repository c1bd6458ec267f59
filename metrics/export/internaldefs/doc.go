// Package internaldefs holds the exported metric names and bucket bounds
// shared by the OTel and Prometheus exporters, so both publish identical
// series.
package internaldefs
