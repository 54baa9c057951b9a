package transaction

// URL is the parsed form of a request URL.
type URL struct {
	Full     string
	Protocol string
	Hostname string
	Port     string
	Pathname string
	Search   string
}

// Socket describes the peer connection of a request.
type Socket struct {
	RemoteAddress string
	Encrypted     bool
}

// RequestSnapshot is the request metadata attached under the "request" key.
type RequestSnapshot struct {
	Method  string
	URL     URL
	Headers map[string]string
	Cookies map[string]string
	Socket  Socket
}

// Map renders the snapshot as the nested mapping handed to the APM client.
func (s RequestSnapshot) Map() map[string]any {
	data := map[string]any{
		"method": s.Method,
		"url": map[string]any{
			"full":     s.URL.Full,
			"protocol": s.URL.Protocol,
			"hostname": s.URL.Hostname,
			"port":     s.URL.Port,
			"pathname": s.URL.Pathname,
			"search":   s.URL.Search,
		},
		"socket": map[string]any{
			"remote_address": s.Socket.RemoteAddress,
			"encrypted":      s.Socket.Encrypted,
		},
	}
	if s.Headers != nil {
		data["headers"] = s.Headers
	}
	if s.Cookies != nil {
		data["cookies"] = s.Cookies
	}
	return data
}

// ResponseSnapshot is the response metadata attached under the "response" key.
type ResponseSnapshot struct {
	StatusCode int
	Headers    map[string]string
}

// Map renders the snapshot; headers are left out when there are none.
func (s ResponseSnapshot) Map() map[string]any {
	data := map[string]any{"status_code": s.StatusCode}
	if len(s.Headers) > 0 {
		data["headers"] = s.Headers
	}
	return data
}
