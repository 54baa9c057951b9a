// Package apmchi provides the request tracing middleware for chi routers.
// Every request is bracketed by exactly one begin and one end transaction
// call on the APM client. The transaction is named after the route pattern
// chi matched and classified by the response status code.
package apmchi
