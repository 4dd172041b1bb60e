// Package mirror validates account and API credentials against live
// endpoints, using the Hedera mirror node for ledger accounts.
package mirror

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashgraphonline/holdesk/log"
)

const (
	// MainnetMirrorURL is the public Hedera mainnet mirror node API.
	MainnetMirrorURL = "https://mainnet.mirrornode.hedera.com/api/v1"
	// TestnetMirrorURL is the public Hedera testnet mirror node API.
	TestnetMirrorURL = "https://testnet.mirrornode.hedera.com/api/v1"

	userAgent = "holdesk/0.1.0"
)

// Network selects which Hedera ledger a credential belongs to.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// HederaCredentials identifies a Hedera account to verify.
type HederaCredentials struct {
	AccountID  string  `json:"accountId"`
	PrivateKey string  `json:"privateKey"`
	Network    Network `json:"network"`
}

// HederaTestResult reports a Hedera credential check. Validation and
// connectivity problems land in Error rather than a Go error so callers can
// surface them to the user directly.
type HederaTestResult struct {
	Success bool   `json:"success"`
	Balance string `json:"balance,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LLMCredentials holds an API key for a model provider.
type LLMCredentials struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model"`
}

// LLMTestResult reports an API key format check.
type LLMTestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Service checks credentials against their upstream endpoints.
type Service struct {
	client     *resty.Client
	mainnetURL string
	testnetURL string
}

// Option customizes a Service.
type Option func(*Service)

// WithMirrorURLs overrides the mirror node endpoints, mainly for tests.
func WithMirrorURLs(mainnet, testnet string) Option {
	return func(s *Service) {
		s.mainnetURL = mainnet
		s.testnetURL = testnet
	}
}

// NewService creates a credential verification service.
func NewService(opts ...Option) *Service {
	s := &Service{
		client: resty.New().
			SetHeader("User-Agent", userAgent).
			SetTimeout(15 * time.Second),
		mainnetURL: MainnetMirrorURL,
		testnetURL: TestnetMirrorURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type mirrorAccount struct {
	Balance struct {
		Balance int64 `json:"balance"`
	} `json:"balance"`
}

// TestHedera validates the account id format and fetches the account's
// balance from the mirror node. Only transport-level failures return a Go
// error; everything user-facing goes in the result.
func (s *Service) TestHedera(ctx context.Context, creds HederaCredentials) (HederaTestResult, error) {
	if strings.TrimSpace(creds.AccountID) == "" || strings.TrimSpace(creds.PrivateKey) == "" {
		return HederaTestResult{Error: "Account ID and private key are required"}, nil
	}
	if !ValidAccountID(creds.AccountID) {
		return HederaTestResult{Error: "Account ID must match format shard.realm.num"}, nil
	}

	baseURL := s.mainnetURL
	if creds.Network == Testnet {
		baseURL = s.testnetURL
	}
	url := fmt.Sprintf("%s/accounts/%s", strings.TrimRight(baseURL, "/"), creds.AccountID)

	var account mirrorAccount
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&account).
		Get(url)
	if err != nil {
		// Custom mirror URLs can carry basic-auth userinfo; keep it out of
		// the error.
		return HederaTestResult{}, fmt.Errorf("failed to contact Hedera mirror node %s: %w", log.SanitizeURL(url), err)
	}
	if !resp.IsSuccess() {
		return HederaTestResult{Error: "Network error. Please check your connection and try again."}, nil
	}

	hbar := float64(account.Balance.Balance) / 100_000_000
	return HederaTestResult{
		Success: true,
		Balance: fmt.Sprintf("%.2f HBAR", hbar),
	}, nil
}

// TestOpenAI checks the key is present and carries the OpenAI prefix.
func (s *Service) TestOpenAI(ctx context.Context, creds LLMCredentials) LLMTestResult {
	key := strings.TrimSpace(creds.APIKey)
	if key == "" {
		return LLMTestResult{Error: "OpenAI API key is required"}
	}
	if !strings.HasPrefix(key, "sk-") {
		return LLMTestResult{Error: "Invalid OpenAI API key format"}
	}
	return LLMTestResult{Success: true}
}

// TestAnthropic checks the key is present and carries the Anthropic prefix.
func (s *Service) TestAnthropic(ctx context.Context, creds LLMCredentials) LLMTestResult {
	key := strings.TrimSpace(creds.APIKey)
	if key == "" {
		return LLMTestResult{Error: "Anthropic API key is required"}
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return LLMTestResult{Error: "Invalid Anthropic API key format"}
	}
	return LLMTestResult{Success: true}
}

// ValidAccountID reports whether id is three dot-separated decimal parts.
func ValidAccountID(id string) bool {
	parts := strings.Split(id, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
