// Package apmotel implements the transaction client contract on top of the
// OpenTelemetry trace API. A transaction is a server span; the context
// suppliers attached to it are evaluated when it ends and flattened into
// span attributes.
package apmotel
