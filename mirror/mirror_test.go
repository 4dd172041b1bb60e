package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHederaSuccessReturnsBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/0.0.1234", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"balance":{"balance":123000000}}`))
	}))
	defer srv.Close()

	svc := NewService(WithMirrorURLs(srv.URL+"/api/v1", srv.URL+"/api/v1"))
	result, err := svc.TestHedera(context.Background(), HederaCredentials{
		AccountID:  "0.0.1234",
		PrivateKey: "test-key",
		Network:    Testnet,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "1.23 HBAR", result.Balance)
	assert.Empty(t, result.Error)
}

func TestHederaInvalidAccountIDReturnsError(t *testing.T) {
	svc := NewService()
	result, err := svc.TestHedera(context.Background(), HederaCredentials{
		AccountID:  "invalid",
		PrivateKey: "key",
		Network:    Testnet,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.Balance)
	assert.Contains(t, result.Error, "Account ID must match")
}

func TestHederaMissingCredentials(t *testing.T) {
	svc := NewService()
	result, err := svc.TestHedera(context.Background(), HederaCredentials{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "required")
}

func TestHederaServerErrorIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	svc := NewService(WithMirrorURLs(srv.URL, srv.URL))
	result, err := svc.TestHedera(context.Background(), HederaCredentials{
		AccountID:  "0.0.99999",
		PrivateKey: "key",
		Network:    Mainnet,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Network error")
}

func TestHederaTransportErrorHidesMirrorCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.Listener.Addr().String()
	srv.Close()

	base := "http://mirror-user:topsecret@" + addr + "/api/v1"
	svc := NewService(WithMirrorURLs(base, base))
	_, err := svc.TestHedera(context.Background(), HederaCredentials{
		AccountID:  "0.0.1234",
		PrivateKey: "test-key",
		Network:    Testnet,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "***")
	assert.NotContains(t, err.Error(), "topsecret")
}

func TestOpenAIRejectsInvalidKey(t *testing.T) {
	svc := NewService()
	result := svc.TestOpenAI(context.Background(), LLMCredentials{APIKey: "wrong", Model: "gpt-4o"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Invalid OpenAI API key")
}

func TestOpenAIAcceptsValidKey(t *testing.T) {
	svc := NewService()
	result := svc.TestOpenAI(context.Background(), LLMCredentials{APIKey: "sk-valid", Model: "gpt-4o"})
	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
}

func TestAnthropicAcceptsValidKey(t *testing.T) {
	svc := NewService()
	result := svc.TestAnthropic(context.Background(), LLMCredentials{APIKey: "sk-ant-valid", Model: "claude"})
	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
}

func TestAnthropicRejectsOpenAIStyleKey(t *testing.T) {
	svc := NewService()
	result := svc.TestAnthropic(context.Background(), LLMCredentials{APIKey: "sk-wrong", Model: "claude"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Invalid Anthropic API key")
}

func TestValidAccountID(t *testing.T) {
	assert.True(t, ValidAccountID("0.0.1234"))
	assert.True(t, ValidAccountID("1.2.3"))
	assert.False(t, ValidAccountID("0.0"))
	assert.False(t, ValidAccountID("0.0.12a4"))
	assert.False(t, ValidAccountID("0..1234"))
	assert.False(t, ValidAccountID(""))
}
