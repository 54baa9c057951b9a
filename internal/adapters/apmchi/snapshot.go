package apmchi

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/fllarpy/apm-chi/domain/transaction"
)

type snapshotter struct {
	captureHeaders bool
	sanitizer      sanitizer
}

func newSnapshotter(captureHeaders bool, s sanitizer) snapshotter {
	return snapshotter{captureHeaders: captureHeaders, sanitizer: s}
}

func (s snapshotter) request(r *http.Request) transaction.RequestSnapshot {
	scheme := requestScheme(r)
	hostname, port := splitHostPort(r.Host)

	snap := transaction.RequestSnapshot{
		Method: r.Method,
		URL: transaction.URL{
			Full:     scheme + "://" + r.Host + r.URL.RequestURI(),
			Protocol: scheme + ":",
			Hostname: hostname,
			Port:     port,
			Pathname: r.URL.Path,
		},
		Socket: transaction.Socket{
			RemoteAddress: remoteAddress(r.RemoteAddr),
			Encrypted:     scheme == "https",
		},
	}
	if r.URL.RawQuery != "" {
		snap.URL.Search = "?" + r.URL.RawQuery
	}

	if s.captureHeaders {
		snap.Headers = s.headers(r.Header)
		snap.Cookies = make(map[string]string)
		for _, c := range r.Cookies() {
			snap.Cookies[c.Name] = s.sanitizer.value(c.Name, c.Value)
		}
	}
	return snap
}

func (s snapshotter) response(ww middleware.WrapResponseWriter, result string) transaction.ResponseSnapshot {
	status := ww.Status()
	if status == 0 {
		switch result {
		case transaction.ResultCancelled:
			// Nothing was sent.
		case transaction.ResultServerError:
			status = http.StatusInternalServerError
		default:
			status = http.StatusOK
		}
	}

	snap := transaction.ResponseSnapshot{StatusCode: status}
	if s.captureHeaders {
		snap.Headers = s.headers(ww.Header())
	}
	return snap
}

func (s snapshotter) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		key := http.CanonicalHeaderKey(name)
		out[key] = s.sanitizer.value(key, strings.Join(values, ", "))
	}
	return out
}

func requestScheme(r *http.Request) string {
	if r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func splitHostPort(hostport string) (string, string) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, ""
	}
	return host, port
}

// remoteAddress strips the port from the peer address; "" when absent.
func remoteAddress(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
