// Package report generates case reports: it validates uploaded files, sends
// them to the Coze workflow with retries and renders the downloadable text
// document. Nothing is stored; a report lives only for the request that made it.
package report
