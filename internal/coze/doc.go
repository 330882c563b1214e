// Package coze implements the HTTP client for the Coze open API: multipart
// file upload and synchronous workflow runs.
package coze
