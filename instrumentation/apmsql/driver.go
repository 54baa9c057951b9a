// Package apmsql opens database/sql handles whose queries are recorded as
// client spans of the current transaction.
package apmsql

import (
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Open is sql.Open with tracing. attrs are added to every span, typically
// the semconv db.system attribute of the driver.
func Open(tp trace.TracerProvider, driverName, dataSourceName string, attrs ...attribute.KeyValue) (*sql.DB, error) {
	db, err := otelsql.Open(driverName, dataSourceName,
		otelsql.WithTracerProvider(tp),
		otelsql.WithAttributes(attrs...),
		otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
			OmitRows:       true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("apmsql: open %s: %w", driverName, err)
	}
	return db, nil
}
