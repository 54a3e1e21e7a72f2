package script

import (
	"bytes"
	"strings"
)

// headerCarrier adapts assembled request headers to propagation.TextMapCarrier.
// Lookups are case-insensitive; the first matching header wins.
type headerCarrier [][2]string

func (hc headerCarrier) Get(key string) string {
	for _, h := range hc {
		if strings.EqualFold(h[0], key) {
			return h[1]
		}
	}
	return ""
}

// Set is a no-op: request headers are read-only once assembled.
func (hc headerCarrier) Set(_, _ string) {}

func (hc headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc))
	for _, h := range hc {
		keys = append(keys, h[0])
	}
	return keys
}

// requestPath strips the query from a request target for span names.
func requestPath(url []byte) string {
	if i := bytes.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	return string(url)
}
