// Package server implements the HTTP API of the case report service: report
// generation, file upload, workflow runs, report download and the health,
// configuration and metrics endpoints.
package server
