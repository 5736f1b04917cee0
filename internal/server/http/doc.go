// Package httpserver exposes the canvass JSON API: auth, interview
// submission, survey administration, QC batches, and the review assignment
// workflow. Every endpoint answers the uniform {success, data, message,
// error} envelope; bearer tokens carry the caller's role.
package httpserver
