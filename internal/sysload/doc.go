// Package sysload samples system load and drives the adaptive worker
// budget. A background sampler reads CPU, memory, and I/O pressure on a
// fixed interval; the controller converts the smoothed load score into
// worker-count adjustments with hysteresis.
package sysload
