// Package workflow turns the loosely shaped data field of a workflow run into
// report text. The payload may be plain text, a string holding encoded JSON,
// or a JSON value; all three are handled by the same ordered field lookup.
package workflow
