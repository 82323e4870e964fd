// Package api serves the run journal over HTTP: recent runs, a single run
// with its steps, and the process metrics.
package api
