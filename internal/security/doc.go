// Package security provides path validation for the indexer's file walk.
//
// # Overview
//
// The indexer (internal/index) reads files named by glob patterns in the
// project configuration. Path validator prevents directory traversal
// (CWE-22) from resolving a glob match, a symlink, or a configured root
// outside the project directory.
//
//	validator, err := security.NewPath([]string{projectRoot})
//	if _, err := validator.Validate(candidate); err != nil {
//	    return fmt.Errorf("invalid path: %w", err)
//	}
//
// # Design Philosophy
//
//   - Fail-secure: when in doubt, deny access.
//   - Explicit allowlists over denylists.
//   - Zero configuration beyond the allowed directory list.
//
// # Error Handling
//
// Validate reports a rejected path only through its returned error; it
// writes no log entry itself. The indexer logs a warning when it skips a
// path that Validate rejects.
package security
