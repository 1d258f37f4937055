package executors

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helmsmith/conveyor/internal/secrets"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// HTTPConfig bounds the HTTP executors.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPRequestExecutor implements the "http.request" node type. Config keys:
// method, url, headers, body, body_encoding (json|form|text|raw), auth,
// timeout, follow_redirects, max_redirects, tls_skip_verify,
// fail_on_error_status. Auth credentials may reference vault keys
// (token_secret, password_secret, header_value_secret) instead of carrying
// plain values in the graph definition.
type HTTPRequestExecutor struct {
	config HTTPConfig
	vault  secrets.Vault
}

// NewHTTPRequestExecutor creates the http.request executor. vault may be nil
// when no config uses credential references.
func NewHTTPRequestExecutor(cfg HTTPConfig, vault secrets.Vault) *HTTPRequestExecutor {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPRequestExecutor{config: cfg, vault: vault}
}

func (e *HTTPRequestExecutor) Type() string { return "http.request" }

func (e *HTTPRequestExecutor) Validate(config map[string]any) error {
	rawURL := stringParam(config, "url", "")
	if rawURL == "" {
		return schema.NewError(schema.ErrCodeValidation, "http.request: missing required param 'url'")
	}
	// Interpolated URLs are resolved after validation; only literal ones can
	// be checked here.
	if strings.Contains(rawURL, "${{") {
		return nil
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "http.request: invalid url %q", rawURL)
	}
	if enc := stringParam(config, "body_encoding", "json"); enc != "json" && enc != "form" && enc != "text" && enc != "raw" {
		return schema.NewErrorf(schema.ErrCodeValidation, "http.request: invalid body_encoding %q", enc)
	}
	return nil
}

func (e *HTTPRequestExecutor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	config := inv.Config
	if config == nil {
		config = map[string]any{}
	}

	method := strings.ToUpper(stringParam(config, "method", "GET"))
	rawURL := stringParam(config, "url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "http.request: missing required param 'url'")
	}

	timeout := e.config.DefaultTimeout
	if ts := stringParam(config, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil && d > 0 {
			timeout = d
		}
	}

	bodyReader, contentType, err := buildRequestBody(config)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "http.request: build request: %s", err.Error()).WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if hdrs, ok := config["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	if err := e.applyAuth(ctx, req, config); err != nil {
		return nil, err
	}

	client := e.buildClient(config)

	start := time.Now()
	resp, err := client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"http.request: no response within %s", timeout).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.request: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.request: read response body: %s", err.Error()).WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	switch {
	case len(bodyBytes) == 0:
		parsedBody = nil
	case strings.Contains(respContentType, "application/json"):
		var jsonBody any
		if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	default:
		parsedBody = string(bodyBytes)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	output := map[string]any{
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": respContentType,
		"duration_ms":  durationMs,
	}

	if boolParam(config, "fail_on_error_status", false) && resp.StatusCode >= 400 {
		// 4xx responses will not improve on retry; 5xx might.
		code := schema.ErrCodeNonRetryable
		if resp.StatusCode >= 500 {
			code = schema.ErrCodeExecution
		}
		return nil, schema.NewErrorf(code, "http.request: server returned %d", resp.StatusCode).
			WithDetails(output)
	}

	return &Result{Output: output}, nil
}

func buildRequestBody(config map[string]any) (io.Reader, string, error) {
	rawBody, ok := config["body"]
	if !ok || rawBody == nil {
		return nil, "", nil
	}
	switch stringParam(config, "body_encoding", "json") {
	case "form":
		formData, ok := rawBody.(map[string]any)
		if !ok {
			return nil, "", schema.NewError(schema.ErrCodeValidation, "http.request: form body must be an object")
		}
		vals := url.Values{}
		for k, v := range formData {
			vals.Set(k, fmt.Sprintf("%v", v))
		}
		return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
	case "text":
		return strings.NewReader(fmt.Sprintf("%v", rawBody)), "text/plain", nil
	case "raw":
		return strings.NewReader(fmt.Sprintf("%v", rawBody)), "", nil
	default:
		b, err := json.Marshal(rawBody)
		if err != nil {
			return nil, "", schema.NewErrorf(schema.ErrCodeExecution, "http.request: marshal body: %s", err.Error()).WithCause(err)
		}
		return strings.NewReader(string(b)), "application/json", nil
	}
}

// applyAuth sets request credentials from the auth config block. Each plain
// credential key has a *_secret twin resolved through the vault, so graph
// definitions never need to carry secrets inline.
func (e *HTTPRequestExecutor) applyAuth(ctx context.Context, req *http.Request, config map[string]any) error {
	auth, ok := config["auth"].(map[string]any)
	if !ok {
		return nil
	}

	resolve := func(plainKey, secretKey string) (string, error) {
		if ref := stringParam(auth, secretKey, ""); ref != "" {
			if e.vault == nil {
				return "", schema.NewErrorf(schema.ErrCodeVault,
					"http.request: %s references vault key %q but no vault is configured", secretKey, ref)
			}
			val, err := e.vault.Resolve(ctx, ref)
			if err != nil {
				return "", schema.NewErrorf(schema.ErrCodeVault,
					"http.request: resolve credential %q: %s", ref, err.Error()).WithCause(err)
			}
			return string(val), nil
		}
		return stringParam(auth, plainKey, ""), nil
	}

	switch stringParam(auth, "type", "") {
	case "bearer":
		token, err := resolve("token", "token_secret")
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "basic":
		password, err := resolve("password", "password_secret")
		if err != nil {
			return err
		}
		req.SetBasicAuth(stringParam(auth, "username", ""), password)
	case "api_key":
		headerValue, err := resolve("header_value", "header_value_secret")
		if err != nil {
			return err
		}
		if name := stringParam(auth, "header_name", ""); name != "" {
			req.Header.Set(name, headerValue)
		}
	case "":
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "http.request: unknown auth type %q", stringParam(auth, "type", ""))
	}
	return nil
}

// buildClient builds a fresh client per call so redirect and TLS settings
// never leak across nodes.
func (e *HTTPRequestExecutor) buildClient(config map[string]any) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if boolParam(config, "tls_skip_verify", false) {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := &http.Client{Transport: transport}

	if !boolParam(config, "follow_redirects", true) {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if limit := intParam(config, "max_redirects", 10); limit > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}
	return client
}

// HTTPGetExecutor is the "http.get" convenience form of http.request.
type HTTPGetExecutor struct {
	inner *HTTPRequestExecutor
}

// NewHTTPGetExecutor creates the http.get executor.
func NewHTTPGetExecutor(cfg HTTPConfig, vault secrets.Vault) *HTTPGetExecutor {
	return &HTTPGetExecutor{inner: NewHTTPRequestExecutor(cfg, vault)}
}

func (e *HTTPGetExecutor) Type() string { return "http.get" }

func (e *HTTPGetExecutor) Validate(config map[string]any) error {
	return e.inner.Validate(config)
}

func (e *HTTPGetExecutor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	inv.Config = withMethod(inv.Config, "GET")
	return e.inner.Execute(ctx, inv)
}

// HTTPPostExecutor is the "http.post" convenience form of http.request.
type HTTPPostExecutor struct {
	inner *HTTPRequestExecutor
}

// NewHTTPPostExecutor creates the http.post executor.
func NewHTTPPostExecutor(cfg HTTPConfig, vault secrets.Vault) *HTTPPostExecutor {
	return &HTTPPostExecutor{inner: NewHTTPRequestExecutor(cfg, vault)}
}

func (e *HTTPPostExecutor) Type() string { return "http.post" }

func (e *HTTPPostExecutor) Validate(config map[string]any) error {
	return e.inner.Validate(config)
}

func (e *HTTPPostExecutor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	inv.Config = withMethod(inv.Config, "POST")
	return e.inner.Execute(ctx, inv)
}

// withMethod copies the config with the method pinned; the caller's map is
// never mutated.
func withMethod(config map[string]any, method string) map[string]any {
	out := make(map[string]any, len(config)+1)
	for k, v := range config {
		out[k] = v
	}
	out["method"] = method
	return out
}
