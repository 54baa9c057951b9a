// Package transaction holds the per-request values the tracing middleware
// derives: the transaction name, its result classification and the
// request/response snapshots attached as context.
package transaction

import "strconv"

// Type is the category every HTTP request transaction is begun with.
const Type = "request"

// Context keys under which the snapshots are attached.
const (
	ContextKeyRequest  = "request"
	ContextKeyResponse = "response"
)

// Span attribute keys shared by the client and the exporter.
const (
	AttrType   = "transaction.type"
	AttrName   = "transaction.name"
	AttrResult = "transaction.result"
)

const (
	// ResultServerError is used for panicking handlers and for status codes
	// outside the 100-599 range.
	ResultServerError = "5xx"
	// ResultCancelled is used when the request context ended before the
	// handler wrote a status.
	ResultCancelled = "cancelled"
)

// Name returns "<METHOD> <pattern>", or "" when no route matched.
func Name(method, routePattern string) string {
	if routePattern == "" {
		return ""
	}
	return method + " " + routePattern
}

// Result buckets a status code by its leading digit: 200 -> "2xx", 404 -> "4xx".
func Result(statusCode int) string {
	if statusCode < 100 || statusCode > 599 {
		return ResultServerError
	}
	return strconv.Itoa(statusCode/100) + "xx"
}

// IsError reports whether result should be treated as a failed transaction.
func IsError(result string) bool {
	return result == ResultServerError || result == ResultCancelled
}
