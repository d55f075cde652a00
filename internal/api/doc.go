// Package api exposes the HTTP interface for submitting questions, managing
// conversations, and retrieving asynchronous job results.
package api
