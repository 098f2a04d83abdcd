package goecharger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joshp123/goe-bridge/internal/config"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// maxStatusBytes caps the status document; real ones are a few KiB.
const maxStatusBytes = 1 << 20

// Client reads the charger's status document.
type Client struct {
	url        string
	httpClient *http.Client
}

// StatusURL builds the status endpoint for the configured access type.
func StatusURL(settings config.Settings) (string, error) {
	switch settings.AccessType {
	case config.AccessOnPremise:
		host := strings.TrimSpace(settings.Host)
		if host == "" {
			return "", &config.ConfigError{Key: "Host", Reason: "required for AccessType OnPremise"}
		}
		return fmt.Sprintf("http://%s/status", host), nil
	default:
		return "", &config.ConfigError{Key: "AccessType", Reason: fmt.Sprintf("AccessType %s is not supported", settings.AccessType)}
	}
}

// NewClient returns a client for settings. The http client carries no
// timeout of its own; callers bound each Fetch with a context deadline.
func NewClient(settings config.Settings, httpClient *http.Client) (*Client, error) {
	url, err := StatusURL(settings)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{url: url, httpClient: httpClient}, nil
}

// URL returns the status endpoint.
func (c *Client) URL() string {
	return c.url
}

// Fetch performs one GET of the status endpoint.
func (c *Client) Fetch(ctx context.Context) (RawTelemetry, error) {
	payload, err := c.getBytes(ctx)
	if err != nil {
		return nil, &FetchError{Kind: FetchTransport, URL: c.url, Err: err}
	}
	raw, err := decodeTelemetry(payload)
	if err != nil {
		return nil, &FetchError{Kind: FetchDecode, URL: c.url, Err: err}
	}
	return raw, nil
}

func (c *Client) getBytes(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("no response from go-eCharger: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(payload) > maxStatusBytes {
		return nil, fmt.Errorf("response larger than %d bytes", maxStatusBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return payload, nil
}

var (
	errEmptyDocument = errors.New("converting response to JSON failed: empty document")
	errNotObject     = errors.New("converting response to JSON failed: not an object")
)

// decodeTelemetry parses payload keeping numbers as json.Number.
func decodeTelemetry(payload []byte) (RawTelemetry, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("converting response to JSON failed: %w", err)
	}
	if falsy(doc) {
		return nil, errEmptyDocument
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return RawTelemetry(obj), nil
}

func falsy(doc any) bool {
	switch v := doc.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case json.Number:
		f, err := v.Float64()
		return err == nil && f == 0
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	default:
		return false
	}
}
