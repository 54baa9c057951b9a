// Package http_reporter provides an HTTP handler exposing the transactions
// recorded by the agent as JSON. It is meant for a debug endpoint mounted
// next to the application's routes.
package http_reporter
