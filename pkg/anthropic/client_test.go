package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageJSON(text string, usage map[string]any) map[string]any {
	return map[string]any{
		"id":   "msg_test_001",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": "end_turn",
		"usage":       usage,
	}
}

// captureServer answers every request with resp and records the last body.
func captureServer(t *testing.T, status int, resp any, body *map[string]any) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		if body != nil {
			raw, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.NoError(t, json.Unmarshal(raw, body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testClient(url string) Client {
	return NewClient("test-key", WithBaseURL(url), WithMaxRetries(0))
}

func TestComplete(t *testing.T) {
	ts := captureServer(t, http.StatusOK, messageJSON("## 1.1 Définition", map[string]any{
		"input_tokens":  10,
		"output_tokens": 5,
	}), nil)

	resp, err := testClient(ts.URL).Complete(context.Background(), Request{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Prompt:    "Section: 1.1 Définition & périmètre",
	})
	require.NoError(t, err)
	assert.Equal(t, "## 1.1 Définition", resp.Text)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, Usage{InputTokens: 10, OutputTokens: 5}, resp.Usage)
}

func TestComplete_SystemCacheAndTemperature(t *testing.T) {
	var body map[string]any
	ts := captureServer(t, http.StatusOK, messageJSON("Reçu", map[string]any{
		"input_tokens":                50,
		"output_tokens":               3,
		"cache_creation_input_tokens": 5000,
	}), &body)

	temp := 0.3
	resp, err := testClient(ts.URL).Complete(context.Background(), Request{
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   128,
		System:      "Tu es un consultant senior.",
		CacheTTL:    CacheTTLLong,
		Prompt:      "Contenu",
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), resp.Usage.CacheWriteTokens)

	assert.InDelta(t, 0.3, body["temperature"], 1e-9)
	system, ok := body["system"].([]any)
	require.True(t, ok, "system should be a block list")
	require.Len(t, system, 1)
	block := system[0].(map[string]any)
	assert.Equal(t, "Tu es un consultant senior.", block["text"])
	cc := block["cache_control"].(map[string]any)
	assert.Equal(t, "ephemeral", cc["type"])
	assert.Equal(t, "1h", cc["ttl"])
}

func TestComplete_NoSystem(t *testing.T) {
	var body map[string]any
	ts := captureServer(t, http.StatusOK, messageJSON("ok", map[string]any{}), &body)

	_, err := testClient(ts.URL).Complete(context.Background(), Request{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Prompt:    "x",
	})
	require.NoError(t, err)
	assert.NotContains(t, body, "system")
	assert.NotContains(t, body, "temperature")
}

func TestComplete_APIError(t *testing.T) {
	ts := captureServer(t, http.StatusInternalServerError, map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "api_error", "message": "Internal server error"},
	}, nil)

	_, err := testClient(ts.URL).Complete(context.Background(), Request{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Prompt:    "Hello",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: complete")
}

func TestComplete_RejectsBadRequests(t *testing.T) {
	c := testClient("http://127.0.0.1:0")

	_, err := c.Complete(context.Background(), Request{Model: "m", MaxTokens: 1})
	assert.ErrorContains(t, err, "empty prompt")

	_, err = c.Complete(context.Background(), Request{Model: "m", MaxTokens: 1, Prompt: "x", CacheTTL: "10m"})
	assert.ErrorContains(t, err, "unsupported cache ttl")
}

func TestValidCacheTTL(t *testing.T) {
	assert.True(t, ValidCacheTTL(""))
	assert.True(t, ValidCacheTTL("5m"))
	assert.True(t, ValidCacheTTL("1h"))
	assert.False(t, ValidCacheTTL("30m"))
}

func TestSystemBlocks(t *testing.T) {
	plain := systemBlocks("rôle", "")
	require.Len(t, plain, 1)
	assert.Equal(t, "rôle", plain[0].Text)
	assert.Empty(t, string(plain[0].CacheControl.TTL))

	cached := systemBlocks("rôle", CacheTTLShort)
	require.Len(t, cached, 1)
	assert.Equal(t, "5m", string(cached[0].CacheControl.TTL))
}
