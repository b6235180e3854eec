package proxy

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/museum-visits/internal/http/response"
	"github.com/diagnosis/museum-visits/pkg/logger"
	"github.com/diagnosis/museum-visits/pkg/ratelimit"
)

// maxBodyBytes caps forwarded request bodies.
const maxBodyBytes = 1 << 20

// hop-by-hop headers are never forwarded in either direction
var hopHeaders = map[string]struct{}{
	"connection":          {},
	"upgrade":             {},
	"proxy-connection":    {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"keep-alive":          {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
}

// ServiceProxy forwards requests, path and query unchanged, to one upstream service.
type ServiceProxy struct {
	name    string
	baseURL string
	client  *http.Client
}

func NewServiceProxy(name, baseURL string) *ServiceProxy {
	return &ServiceProxy{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
			// redirects are the caller's business
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

func (p *ServiceProxy) Name() string { return p.name }

func (p *ServiceProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := p.baseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to build upstream request", "error", err, "service", p.name)
		response.InternalError(w, "Internal server error")
		return
	}
	req.ContentLength = r.ContentLength

	copyHeaders(req.Header, r.Header)
	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok && requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	req.Header.Set("X-Forwarded-For", ratelimit.ClientIP(r))
	req.Header.Set("X-Gateway-Forwarded", "true")

	logger.DebugContext(ctx, "Proxying request", "method", r.Method, "service", p.name, "path", r.URL.Path)

	resp, err := p.client.Do(req)
	if err != nil {
		logger.ErrorContext(ctx, "Service proxy error", "error", err, "service", p.name, "path", r.URL.Path)
		response.WriteError(w, http.StatusBadGateway, fmt.Sprintf("%s service unavailable", p.name), "upstream_unavailable")
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.ErrorContext(ctx, "Failed to copy response body", "error", err, "service", p.name)
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if _, hop := hopHeaders[strings.ToLower(key)]; hop {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
