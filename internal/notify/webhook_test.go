package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWebhookNotify(t *testing.T) {
	var body []byte
	var sig, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(SignatureHeader)
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := NewWebhook(WebhookConfig{URL: srv.URL, Secret: "whsec", BearerToken: "tok"}, nil)
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), sampleReport()))

	require.True(t, VerifySignature(body, "whsec", sig), "signature %q does not verify", sig)
	require.False(t, VerifySignature(body, "other", sig))
	require.Equal(t, "Bearer tok", auth)

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, "0b7f3c2e-1111-2222-3333-444455556666", payload.Report.ID)
	require.Len(t, payload.Report.Actions, 6)
	require.Contains(t, payload.Summary, "fabsync poll 0b7f3c2e")
}

func TestWebhookNotify_Unsigned(t *testing.T) {
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	n, err := NewWebhook(WebhookConfig{URL: srv.URL}, nil)
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), sampleReport()))
	require.Empty(t, sig)
}

func TestWebhookNotify_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewWebhook(WebhookConfig{URL: srv.URL}, nil)
	require.NoError(t, err)
	err = n.Notify(context.Background(), sampleReport())
	require.ErrorContains(t, err, "status 502: nope")
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	good := ComputeSignature(body, "s3cret")
	require.True(t, VerifySignature(body, "s3cret", good))
	require.False(t, VerifySignature(body, "s3cret", ""))
	require.False(t, VerifySignature(body, "s3cret", "sha256=zz"))
	require.False(t, VerifySignature([]byte(`{"a":2}`), "s3cret", good))
}

func TestNewWebhook_RequiresURL(t *testing.T) {
	_, err := NewWebhook(WebhookConfig{}, nil)
	require.Error(t, err)
}
