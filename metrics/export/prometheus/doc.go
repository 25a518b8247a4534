// Package prometheus renders apiguard engine counters in Prometheus text
// exposition format. Callers mount Handler; nothing is registered globally.
package prometheus
