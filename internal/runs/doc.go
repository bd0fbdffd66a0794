// Package runs keeps track of motion extraction runs started through the
// service.
//
// Every run gets its own pipeline orchestrator and executes in the
// background. The manager reports progress as a percentage, cancels runs on
// request, keeps finished outputs in memory for download until they are
// evicted, and mirrors each run into the run history when a store is
// configured.
package runs
