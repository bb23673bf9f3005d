package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/yabot-dev/yabot/pkg/types"
)

const fetchDescription = `Fetches content from a URL and returns it as text, markdown, or raw html.

Usage notes:
  - The URL must start with http:// or https://
  - This tool is read-only
  - Responses over 5MB are rejected; long content is truncated
  - Use format "markdown" for readable content, "text" for plain text, "html" for raw HTML`

const (
	maxResponseSize     = 5 * 1024 * 1024
	DefaultFetchTimeout = 30 * time.Second
	maxFetchTimeout     = 120 * time.Second
	fetchUserAgent      = "yabot/1.0 (+https://github.com/yabot-dev/yabot)"
)

// FetchTool implements fetch_url.
type FetchTool struct {
	client    *http.Client
	timeout   time.Duration
	maxOutput int
}

// FetchInput represents the input for fetch_url.
type FetchInput struct {
	URL     string `json:"url"`
	Format  string `json:"format,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

// NewFetchTool creates fetch_url. Zero values select the defaults.
func NewFetchTool(timeout time.Duration, maxOutput int) *FetchTool {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &FetchTool{
		client:    &http.Client{Timeout: maxFetchTimeout},
		timeout:   timeout,
		maxOutput: maxOutput,
	}
}

func (t *FetchTool) ID() string                     { return "fetch_url" }
func (t *FetchTool) Description() string            { return fetchDescription }
func (t *FetchTool) Sensitivity() types.Sensitivity { return types.Safe }

func (t *FetchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"pattern": "^https?://",
				"description": "The URL to fetch content from"
			},
			"format": {
				"type": "string",
				"enum": ["text", "markdown", "html"],
				"description": "The format to return the content in (default markdown)"
			},
			"timeout": {
				"type": "integer",
				"minimum": 1,
				"description": "Optional timeout in seconds (max 120)"
			}
		},
		"required": ["url"]
	}`)
}

func (t *FetchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params FetchInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	if params.Format == "" {
		params.Format = "markdown"
	}

	timeout := t.timeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Second
		if timeout > maxFetchTimeout {
			timeout = maxFetchTimeout
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, params.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	switch params.Format {
	case "markdown":
		req.Header.Set("Accept", "text/markdown;q=1.0, text/plain;q=0.8, text/html;q=0.7, */*;q=0.1")
	case "text":
		req.Header.Set("Accept", "text/plain;q=1.0, text/markdown;q=0.9, text/html;q=0.8, */*;q=0.1")
	case "html":
		req.Header.Set("Accept", "text/html;q=1.0, application/xhtml+xml;q=0.9, */*;q=0.1")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status code: %d", resp.StatusCode)
	}
	if resp.ContentLength > maxResponseSize {
		return nil, fmt.Errorf("response too large (exceeds 5MB limit)")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("response too large (exceeds 5MB limit)")
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")
	isHTML := strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml")

	output := content
	switch {
	case params.Format == "markdown" && isHTML:
		output, err = convertHTMLToMarkdown(content)
		if err != nil {
			return nil, fmt.Errorf("failed to convert HTML to markdown: %w", err)
		}
	case params.Format == "text" && isHTML:
		output, err = extractTextFromHTML(content)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from HTML: %w", err)
		}
	}

	return &Result{
		Title:  fmt.Sprintf("%s (%s)", params.URL, contentType),
		Output: truncate(output, t.maxOutput),
		Metadata: map[string]any{
			"status":       resp.StatusCode,
			"content_type": contentType,
			"bytes":        len(body),
		},
	}, nil
}

// extractTextFromHTML extracts plain text, dropping scripts and styles and
// collapsing blank runs.
func extractTextFromHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, iframe, object, embed").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// convertHTMLToMarkdown converts HTML content to Markdown.
func convertHTMLToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link")
	return converter.ConvertString(html)
}
