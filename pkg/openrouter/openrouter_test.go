package openrouter

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	assert.Nil(t, NewClient(Config{BaseURL: "https://openrouter.ai/api/v1"}))
	assert.NotNil(t, NewClient(Config{APIKey: "k"}))
}

func TestHeaderTransportSetsAttribution(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := Config{SiteURL: " https://groomer.example ", SiteName: "Grooming Desk"}
	client := &http.Client{Transport: &headerTransport{headers: cfg.headers(), next: http.DefaultTransport}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "https://groomer.example", got.Get("HTTP-Referer"))
	assert.Equal(t, "Grooming Desk", got.Get("X-Title"))
}

func TestHeadersOmitEmpty(t *testing.T) {
	assert.Empty(t, (&Config{}).headers())
}
