package apmotel

import (
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

// flatten turns a nested mapping into dotted span attributes:
// {"headers": {"Accept": "*/*"}} under "request" becomes request.headers.Accept.
func flatten(prefix string, data map[string]any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	appendFlattened(&attrs, prefix, data)
	return attrs
}

func appendFlattened(attrs *[]attribute.KeyValue, prefix string, data map[string]any) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := prefix + "." + k
		switch v := data[k].(type) {
		case nil:
		case string:
			*attrs = append(*attrs, attribute.String(key, v))
		case bool:
			*attrs = append(*attrs, attribute.Bool(key, v))
		case int:
			*attrs = append(*attrs, attribute.Int(key, v))
		case int64:
			*attrs = append(*attrs, attribute.Int64(key, v))
		case float64:
			*attrs = append(*attrs, attribute.Float64(key, v))
		case []string:
			*attrs = append(*attrs, attribute.StringSlice(key, v))
		case map[string]string:
			nested := make(map[string]any, len(v))
			for nk, nv := range v {
				nested[nk] = nv
			}
			appendFlattened(attrs, key, nested)
		case map[string]any:
			appendFlattened(attrs, key, v)
		default:
			*attrs = append(*attrs, attribute.String(key, fmt.Sprint(v)))
		}
	}
}
