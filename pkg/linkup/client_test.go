package linkup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.Equal(t, "marché cybersécurité France", raw["q"])
		assert.Equal(t, "standard", raw["depth"])
		assert.Equal(t, "searchResults", raw["outputType"])
		assert.Equal(t, false, raw["includeImages"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"type":"text","name":"Etude","url":"https://a.fr","content":"contenu"},
			{"type":"text","title":"Panorama","url":"https://b.fr","snippet":"court","description":"long"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.Search(context.Background(), SearchRequest{Query: "marché cybersécurité France"})

	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Etude", resp.Results[0].Heading())
	assert.Equal(t, "contenu", resp.Results[0].Text())
	assert.Equal(t, "Panorama", resp.Results[1].Heading())
	assert.Equal(t, "court", resp.Results[1].Text())
}

func TestSearch_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer srv.Close()

	client := NewClient("bad", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), SearchRequest{Query: "q"})

	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Contains(t, err.Error(), "401")
}

func TestSearch_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{nope`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), SearchRequest{Query: "q"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

func TestSearch_KeepsExplicitDepth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DepthDeep, req.Depth)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	resp, err := client.Search(context.Background(), SearchRequest{Query: "q", Depth: DepthDeep})

	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	hc := &http.Client{}
	c := NewClient("key", WithHTTPClient(hc)).(*httpClient)
	assert.Equal(t, defaultBaseURL, c.baseURL)
	assert.Same(t, hc, c.http)
}
