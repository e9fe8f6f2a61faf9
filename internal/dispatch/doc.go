// Package dispatch bridges local jobs to the asynchronous remote task API.
// Submission persists the remote handle and enqueues a poll message; a
// bounded worker pool claims due messages, queries task status, and either
// reschedules the poll or routes terminal states to the registered finalize
// handler. Waiting is always "reschedule after delay", never a blocked
// worker, so a small pool services any number of in-flight tasks.
package dispatch
