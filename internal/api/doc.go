// Package api exposes the swap service over HTTP: job submission and
// lookup, quotes, approvals and balance reads against the configured chains.
package api
