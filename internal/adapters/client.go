package adapters

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// DefaultTimeout for non-streaming provider calls.
	DefaultTimeout = 60 * time.Second

	// StreamTimeout for streaming calls; long generations keep the
	// connection open well past the non-streaming budget.
	StreamTimeout = 10 * time.Minute

	// maxResponseSize prevents OOM on unexpectedly large API responses (10MB).
	maxResponseSize = 10 * 1024 * 1024
)

// EndpointFunc resolves the URL and final body for a materialized request.
// Each provider registers its own in the registry Definition.
type EndpointFunc func(baseURL string, body []byte, streaming bool) (string, []byte, error)

// ChatCompletionsEndpoint posts everything to /chat/completions, the shape
// shared by OpenAI-compatible providers. The body passes through unchanged.
func ChatCompletionsEndpoint(baseURL string, body []byte, _ bool) (string, []byte, error) {
	return baseURL + "/chat/completions", body, nil
}

// ConverseEndpoint addresses the model in the URL path, so the modelId field
// is lifted out of the body and into /model/{id}/converse or
// /model/{id}/converse-stream.
func ConverseEndpoint(baseURL string, body []byte, streaming bool) (string, []byte, error) {
	modelID := gjson.GetBytes(body, "modelId").String()
	if modelID == "" {
		return "", nil, fmt.Errorf("bedrock request missing modelId")
	}
	body, err := sjson.DeleteBytes(body, "modelId")
	if err != nil {
		return "", nil, fmt.Errorf("failed to strip modelId: %w", err)
	}
	op := "converse"
	if streaming {
		op = "converse-stream"
	}
	return fmt.Sprintf("%s/model/%s/%s", baseURL, url.PathEscape(modelID), op), body, nil
}

// ClientOptions configures a provider HTTP client.
type ClientOptions struct {
	// BaseURL overrides the provider's default API root.
	BaseURL string

	// Timeout overrides DefaultTimeout for non-streaming calls.
	Timeout time.Duration

	// Region selects the AWS region for Bedrock. Ignored elsewhere.
	Region string

	// HTTPClient overrides the default client (useful for testing and
	// connection pooling). For Bedrock a SigV4 signing transport is
	// installed automatically when this is nil.
	HTTPClient *http.Client

	// Endpoint overrides URL construction. Defaults to the chat-completions
	// shape for NewClient and the converse shape for NewBedrockClient, so a
	// new provider with its own endpoint layout can plug one in through its
	// registry Definition without touching this package.
	Endpoint EndpointFunc

	// ErrorMessage overrides error body parsing. Same defaults and same
	// extension path as Endpoint.
	ErrorMessage ErrorMessageFunc
}

// Client executes materialized provider requests over HTTP. One client per
// provider; the registry constructs them with the right auth and base URL.
type Client struct {
	provider     Provider
	baseURL      string
	apiKey       string
	http         *http.Client
	timeout      time.Duration
	endpoint     EndpointFunc
	errorMessage ErrorMessageFunc
}

// NewClient builds a client for an OpenAI-compatible provider using bearer
// auth. Bedrock clients are built with NewBedrockClient instead.
func NewClient(provider Provider, apiKey, defaultBaseURL string, opts ClientOptions) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	endpoint := opts.Endpoint
	if endpoint == nil {
		endpoint = ChatCompletionsEndpoint
	}
	errorMessage := opts.ErrorMessage
	if errorMessage == nil {
		errorMessage = OpenAIErrorMessage
	}
	return &Client{
		provider:     provider,
		baseURL:      baseURL,
		apiKey:       apiKey,
		http:         hc,
		timeout:      timeout,
		endpoint:     endpoint,
		errorMessage: errorMessage,
	}
}

// NewBedrockClient builds a client whose transport signs requests with AWS
// SigV4 for bedrock-runtime. Credentials come from the standard AWS chain;
// no API key is involved.
func NewBedrockClient(opts ClientOptions) (*Client, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	hc := opts.HTTPClient
	if hc == nil {
		transport, err := NewSigningTransport(region, nil)
		if err != nil {
			return nil, err
		}
		hc = &http.Client{Transport: transport}
	}

	endpoint := opts.Endpoint
	if endpoint == nil {
		endpoint = ConverseEndpoint
	}
	errorMessage := opts.ErrorMessage
	if errorMessage == nil {
		errorMessage = BedrockErrorMessage
	}
	return &Client{
		provider:     ProviderBedrock,
		baseURL:      baseURL,
		http:         hc,
		timeout:      timeout,
		endpoint:     endpoint,
		errorMessage: errorMessage,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string, body []byte, streaming bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// Execute posts a materialized non-streaming request and returns the raw
// response body. Non-2xx statuses become *UpstreamError with the provider's
// error payload preserved.
func (c *Client) Execute(ctx context.Context, req RequestAdapter) ([]byte, error) {
	body, err := req.ProviderRequest()
	if err != nil {
		return nil, err
	}
	endpoint, body, err := c.endpoint(c.baseURL, body, false)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, endpoint, body, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	reader, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	respBody, err := io.ReadAll(io.LimitReader(reader, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Provider: c.provider,
			Status:   resp.StatusCode,
			Body:     respBody,
			Message:  c.errorMessage(respBody),
		}
	}
	return respBody, nil
}

// ExecuteStream posts a materialized streaming request and returns a Stream
// over the response's event payloads. The caller owns the stream and must
// Close it.
func (c *Client) ExecuteStream(ctx context.Context, req RequestAdapter) (*Stream, error) {
	body, err := req.ProviderRequest()
	if err != nil {
		return nil, err
	}
	endpoint, body, err := c.endpoint(c.baseURL, body, true)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, StreamTimeout)

	httpReq, err := c.newRequest(ctx, endpoint, body, true)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s stream request failed: %w", c.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return nil, &UpstreamError{
			Provider: c.provider,
			Status:   resp.StatusCode,
			Body:     errBody,
			Message:  c.errorMessage(errBody),
		}
	}

	reader, err := decodeBody(resp)
	if err != nil {
		cancel()
		resp.Body.Close()
		return nil, err
	}

	return &Stream{
		decoder: newSSEDecoder(reader),
		body:    resp.Body,
		cancel:  cancel,
	}, nil
}

// Stream iterates the event payloads of a streaming response.
type Stream struct {
	decoder *sseDecoder
	body    io.ReadCloser
	cancel  context.CancelFunc
}

// Next returns the next event payload, or io.EOF when the upstream closes.
func (s *Stream) Next() ([]byte, error) {
	return s.decoder.Next()
}

// Close releases the connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.cancel()
	return s.body.Close()
}

// decodeBody unwraps Content-Encoding. Providers negotiate gzip or brotli
// when offered; everything else passes through untouched.
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to init gzip reader: %w", err)
		}
		return gz, nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}
