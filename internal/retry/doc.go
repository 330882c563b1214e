// Package retry re-invokes remote operations with pure exponential backoff.
// Every failure is retried until the attempt ceiling is reached; the final
// error is returned to the caller unchanged.
package retry
