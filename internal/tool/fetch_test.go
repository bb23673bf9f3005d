package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><head><title>Doc</title><style>body{}</style></head>
<body><h1>Heading</h1><script>alert(1)</script><p>Some <b>bold</b> text.</p>

<ul><li>one</li><li>two</li></ul></body></html>`

func fetchServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, samplePage)
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, strings.Repeat("z", 50))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchTool_Formats(t *testing.T) {
	srv := fetchServer(t)
	tool := NewFetchTool(0, 0)

	tests := []struct {
		format  string
		want    []string
		wantNot []string
	}{
		{"markdown", []string{"# Heading", "**bold**", "- one"}, []string{"alert(1)", "<h1>"}},
		{"text", []string{"Heading", "Some bold text."}, []string{"alert(1)", "<p>", "\n\n"}},
		{"html", []string{"<h1>Heading</h1>", "<script>"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			input := mustJSON(t, map[string]any{"url": srv.URL + "/page", "format": tt.format})
			result, err := tool.Execute(context.Background(), input, nil)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, result.Output, w)
			}
			for _, w := range tt.wantNot {
				assert.NotContains(t, result.Output, w)
			}
			assert.Equal(t, http.StatusOK, result.Metadata["status"])
		})
	}
}

func TestFetchTool_PlainTextPassesThroughAndTruncates(t *testing.T) {
	srv := fetchServer(t)
	result, err := NewFetchTool(0, 10).Execute(context.Background(), mustJSON(t, map[string]any{"url": srv.URL + "/plain"}), nil)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("z", 10)+"\n...(truncated)", result.Output)
}

func TestFetchTool_HTTPError(t *testing.T) {
	srv := fetchServer(t)
	_, err := NewFetchTool(0, 0).Execute(context.Background(), mustJSON(t, map[string]any{"url": srv.URL + "/missing"}), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchTool_RejectsNonHTTPURL(t *testing.T) {
	r := NewRegistry(Options{})
	require.NoError(t, r.Register(NewFetchTool(0, 0)))

	_, err := r.Prepare(toolCall("fetch_url", `{"url":"file:///etc/passwd"}`), "conv", "")
	assert.Error(t, err)
}
