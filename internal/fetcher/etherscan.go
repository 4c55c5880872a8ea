package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	unverifiedABIMarker = "Contract source code not verified"
)

// EtherscanOptions parameterise the explorer API client.
type EtherscanOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Etherscan queries an etherscan-compatible explorer API for gas estimates
// and contract verification status.
type Etherscan struct {
	opts    EtherscanOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewEtherscan constructs an explorer API client.
func NewEtherscan(opts EtherscanOptions, logger zerolog.Logger) *Etherscan {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.etherscan.io"
	}

	return &Etherscan{
		opts:    opts,
		logger:  logger.With().Str("component", "etherscan_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// CurrentFee returns the proposed gas price from the gas tracker endpoint, in gwei.
func (e *Etherscan) CurrentFee(ctx context.Context) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("module", "gastracker")
	params.Set("action", "gasoracle")

	payload, err := e.get(ctx, params)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var res gasOracleResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode gas oracle response: %w", err)
	}
	if res.Status != "1" {
		return decimal.Decimal{}, fmt.Errorf("gas oracle api error: %s", res.Message)
	}

	fee, err := decimal.NewFromString(res.Result.ProposeGasPrice)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse propose gas price: %w", err)
	}
	if fee.IsNegative() {
		return decimal.Decimal{}, errors.New("gas oracle returned negative fee")
	}
	return fee, nil
}

// SourceVerified reports whether the explorer holds verified source for address.
func (e *Etherscan) SourceVerified(ctx context.Context, address string) (bool, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return false, err
	}

	params := url.Values{}
	params.Set("module", "contract")
	params.Set("action", "getsourcecode")
	params.Set("address", normalized)

	payload, err := e.get(ctx, params)
	if err != nil {
		return false, err
	}

	var res sourceCodeResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return false, fmt.Errorf("decode source code response: %w", err)
	}
	if res.Status != "1" {
		return false, fmt.Errorf("source code api error: %s", res.Message)
	}
	if len(res.Result) == 0 {
		return false, nil
	}

	entry := res.Result[0]
	if entry.SourceCode == "" {
		return false, nil
	}
	if strings.Contains(entry.ABI, unverifiedABIMarker) {
		return false, nil
	}
	return true, nil
}

func (e *Etherscan) get(ctx context.Context, params url.Values) ([]byte, error) {
	if e.opts.APIKey != "" {
		params.Set("apikey", e.opts.APIKey)
	}

	endpoint := e.baseURL + "/api?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(e.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "defiadvisor/1.0")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseExplorerError(resp.StatusCode, payload)
	}
	return payload, nil
}

type gasOracleResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  struct {
		SafeGasPrice    string `json:"SafeGasPrice"`
		ProposeGasPrice string `json:"ProposeGasPrice"`
		FastGasPrice    string `json:"FastGasPrice"`
	} `json:"result"`
}

type sourceCodeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		SourceCode   string `json:"SourceCode"`
		ABI          string `json:"ABI"`
		ContractName string `json:"ContractName"`
	} `json:"result"`
}

type explorerErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func parseExplorerError(status int, payload []byte) error {
	var apiErr explorerErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("explorer api error (%d): %s", status, apiErr.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("explorer api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("explorer api error (%d)", status)
}

var (
	_ GasFeeProvider = (*Etherscan)(nil)
	_ SourceVerifier = (*Etherscan)(nil)
)
