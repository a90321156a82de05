package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qhkm/zeptoclaw/internal/autonomy"
	"github.com/qhkm/zeptoclaw/internal/net/ssrf"
)

// maxFetchBytes bounds the body read from a fetched URL. The sanitizer
// bounds what reaches the model, but there is no reason to buffer more.
const maxFetchBytes = 2 << 20

// WebFetchTool fetches a URL on the model's behalf. Every request goes
// through the SSRF guard: scheme restriction, private-address rejection,
// and DNS pinning.
type WebFetchTool struct {
	client *http.Client
}

// NewWebFetchTool creates the web fetch tool.
func NewWebFetchTool(timeout time.Duration) *WebFetchTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebFetchTool{client: ssrf.SafeClient(timeout)}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a public http(s) URL and return the response body. Private and internal addresses are refused."
}

func (t *WebFetchTool) CompactDescription() string { return "Fetch a public URL." }

func (t *WebFetchTool) Category() autonomy.Category { return autonomy.CategoryNetworkRead }

func (t *WebFetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The http or https URL to fetch."}
		},
		"required": ["url"]
	}`)
}

func (t *WebFetchTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		URL        string `json:"url"`
		ParseError string `json:"_parse_error"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", err
	}
	if args.ParseError != "" {
		return "Error: " + args.ParseError, nil
	}

	u, err := ssrf.ValidateURL(args.URL)
	if err != nil {
		return "Error: " + err.Error(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	req.Header.Set("User-Agent", "zeptoclaw/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("Error: HTTP %d\n%s", resp.StatusCode, body), nil
	}
	return string(body), nil
}
