package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
)

// RelayerClient talks to a settlement relayer that holds the delegate key
// and submits token transfers on the settlement authority's behalf. Amounts
// travel as decimal strings of base units.
type RelayerClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewRelayerClient(baseURL, apiKey string, timeout time.Duration) *RelayerClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RelayerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type amountResponse struct {
	Amount string `json:"amount"`
}

type transferBody struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Amount        string `json:"amount"`
	Reference     string `json:"reference"`
	UseDelegation bool   `json:"use_delegation"`
}

func (c *RelayerClient) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	var resp amountResponse
	if _, err := c.do(ctx, http.MethodGet, "/allowance/"+owner.Hex(), nil, &resp); err != nil {
		return nil, err
	}
	return parseUnits(resp.Amount)
}

func (c *RelayerClient) Balance(ctx context.Context, owner, token common.Address) (*big.Int, error) {
	var resp amountResponse
	path := "/balance/" + owner.Hex() + "?token=" + url.QueryEscape(token.Hex())
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return parseUnits(resp.Amount)
}

// Transfer maps 504 and client timeouts to ErrUnconfirmed and 422 to
// ErrRejected. A 409 means the reference was already used; the existing
// transfer is returned.
func (c *RelayerClient) Transfer(ctx context.Context, req contracts.TransferRequest) (*contracts.TransferReceipt, error) {
	if req.Amount == nil {
		return nil, fmt.Errorf("%w: missing amount", ErrRejected)
	}
	body := transferBody{
		From:          req.From.Hex(),
		To:            req.To.Hex(),
		Amount:        req.Amount.String(),
		Reference:     req.Reference,
		UseDelegation: req.UseDelegation,
	}

	var receipt contracts.TransferReceipt
	status, err := c.do(ctx, http.MethodPost, "/transfers", body, &receipt)
	switch {
	case status == http.StatusConflict:
		existing, lerr := c.LookupTransfer(ctx, req.Reference)
		if lerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnconfirmed, lerr)
		}
		if existing == nil || !existing.Confirmed {
			return nil, ErrUnconfirmed
		}
		return existing, nil
	case status == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	case status == http.StatusGatewayTimeout || status == http.StatusAccepted:
		return nil, ErrUnconfirmed
	case err != nil:
		// The request may have reached the relayer.
		return nil, fmt.Errorf("%w: %v", ErrUnconfirmed, err)
	}
	if !receipt.Confirmed || receipt.Signature == "" {
		return nil, ErrUnconfirmed
	}
	return &receipt, nil
}

func (c *RelayerClient) LookupTransfer(ctx context.Context, reference string) (*contracts.TransferReceipt, error) {
	var receipt contracts.TransferReceipt
	status, err := c.do(ctx, http.MethodGet, "/transfers/"+url.PathEscape(reference), nil, &receipt)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// do returns the HTTP status (0 when no response was received).
func (c *RelayerClient) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("relayer %s %s: %w", method, strings.SplitN(path, "?", 2)[0], err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("relayer HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("relayer: decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func parseUnits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, errors.New("relayer: malformed amount " + s)
	}
	return v, nil
}
