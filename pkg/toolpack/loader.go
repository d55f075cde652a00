package toolpack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Vini334/healthcost-copilot/internal/tool"
)

const defaultEndpointTimeout = 15 * time.Second

// Loader turns manifests into registered tools backed by HTTP endpoints.
type Loader struct {
	client       *http.Client
	allowedHosts map[string]struct{}
}

// Option modifies the behaviour of a loader instance.
type Option func(*Loader)

// WithHTTPClient overrides the default HTTP client used for tool calls.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Loader) {
		if client != nil {
			l.client = client
		}
	}
}

// WithAllowedHosts restricts tool endpoints to the given hosts. An empty
// allowlist permits any host.
func WithAllowedHosts(hosts ...string) Option {
	return func(l *Loader) {
		if l.allowedHosts == nil {
			l.allowedHosts = make(map[string]struct{}, len(hosts))
		}
		for _, host := range hosts {
			host = strings.ToLower(strings.TrimSpace(host))
			if host != "" {
				l.allowedHosts[host] = struct{}{}
			}
		}
	}
}

// NewLoader constructs a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{client: &http.Client{}}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Apply registers every enabled tool from the manifests into the registry and
// returns the number of tools registered.
func (l *Loader) Apply(registry *tool.Registry, manifests ...Manifest) (int, error) {
	if registry == nil {
		return 0, fmt.Errorf("tool registry cannot be nil")
	}

	registered := 0
	for _, manifest := range manifests {
		for _, tm := range manifest.Tools {
			if !tm.IsEnabled() {
				continue
			}
			if err := l.checkHost(tm); err != nil {
				return registered, err
			}
			registry.Register(l.definition(manifest.Defaults, tm))
			registered++
		}
	}
	return registered, nil
}

func (l *Loader) checkHost(tm ToolManifest) error {
	if len(l.allowedHosts) == 0 {
		return nil
	}
	parsed, err := url.Parse(tm.Endpoint.URL)
	if err != nil {
		return fmt.Errorf("tool %s endpoint url: %w", tm.Name, err)
	}
	if _, ok := l.allowedHosts[strings.ToLower(parsed.Hostname())]; !ok {
		return fmt.Errorf("tool %s endpoint host %q is not in the allowlist", tm.Name, parsed.Hostname())
	}
	return nil
}

func (l *Loader) definition(defaults Defaults, tm ToolManifest) tool.Definition {
	timeoutSeconds := tm.Endpoint.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaults.TimeoutSeconds
	}
	timeout := defaultEndpointTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	parameters := make([]tool.Parameter, 0, len(tm.Parameters))
	for _, param := range tm.Parameters {
		parameters = append(parameters, tool.Parameter{
			Name:        param.Name,
			Type:        param.Type,
			Description: param.Description,
			Required:    param.Required,
			Default:     param.Default,
		})
	}

	return tool.Definition{
		Name:        tm.Name,
		Description: tm.Description,
		Parameters:  parameters,
		Timeout:     timeout,
		Handler:     l.handler(defaults, tm),
	}
}

// handler builds the HTTP invocation for a tool. POST sends the arguments as
// a JSON body; GET encodes them as query parameters.
func (l *Loader) handler(defaults Defaults, tm ToolManifest) tool.Func {
	method := strings.ToUpper(tm.Endpoint.Method)
	if method == "" {
		method = http.MethodPost
	}

	return func(ctx context.Context, args map[string]any) (any, error) {
		var req *http.Request
		var err error

		switch method {
		case http.MethodGet:
			endpoint, buildErr := urlWithQuery(tm.Endpoint.URL, args)
			if buildErr != nil {
				return nil, buildErr
			}
			req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		default:
			body, marshalErr := json.Marshal(args)
			if marshalErr != nil {
				return nil, fmt.Errorf("encode tool arguments: %w", marshalErr)
			}
			req, err = http.NewRequestWithContext(ctx, http.MethodPost, tm.Endpoint.URL, bytes.NewReader(body))
			if req != nil {
				req.Header.Set("Content-Type", "application/json")
			}
		}
		if err != nil {
			return nil, fmt.Errorf("build tool request: %w", err)
		}
		for key, value := range defaults.Headers {
			req.Header.Set(key, value)
		}
		for key, value := range tm.Endpoint.Headers {
			req.Header.Set(key, value)
		}

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("call tool endpoint: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read tool response: %w", err)
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("tool endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
		}

		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			// Non-JSON bodies pass through as plain text.
			return strings.TrimSpace(string(raw)), nil
		}
		return payload, nil
	}
}

func urlWithQuery(endpoint string, args map[string]any) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse tool endpoint: %w", err)
	}
	query := parsed.Query()
	for key, value := range args {
		query.Set(key, fmt.Sprint(value))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
