// Package remote wraps the cloud task service: file upload, task creation,
// status queries, and artifact download. Every request carries the instance
// and API key headers; download references expressed as service-relative
// /api/v1/ URLs are rebased onto the configured base URL.
package remote
