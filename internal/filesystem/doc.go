// Package filesystem wraps the file operations that touch mounted volumes.
//
// Sources and staged uploads often live on NFS-backed volumes (/cache, or a
// media share handed to the CLI). NFS can report ESTALE for a handle that is
// perfectly valid a few milliseconds later, so Stat and Open retry that one
// error with capped exponential backoff. Every other error is returned on
// the first attempt.
//
// Retries are counted in motion_extractor_filesystem_retries_total and
// motion_extractor_filesystem_stale_errors_total.
package filesystem
