package chain

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/charlesng35/walletrecovery/pkg/logger"
	"github.com/charlesng35/walletrecovery/pkg/metrics"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultConfirmGas = 100_000_000_000_000
	maxResponseBytes  = 4 << 20
)

// Config wires the JSON-RPC client.
type Config struct {
	RPCURL           string
	Timeout          time.Duration
	ConfirmGas       uint64
	CreatorAccountID string
	Deriver          *KeyDeriver
	CreatorKeys      *KeyRing
	HTTPClient       *http.Client
}

// Client talks to a node over JSON-RPC and implements Port.
type Client struct {
	cfg    Config
	http   *http.Client
	log    *zap.Logger
	nextID atomic.Uint64
}

var _ Port = (*Client)(nil)

// NewClient validates the configuration and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	cfg.RPCURL = strings.TrimSpace(cfg.RPCURL)
	if cfg.RPCURL == "" {
		return nil, errors.New("chain: rpc url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ConfirmGas == 0 {
		cfg.ConfirmGas = defaultConfirmGas
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient, log: logger.WithModule("chain")}, nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) (err error) {
	label := method
	if m, ok := params.(map[string]interface{}); ok {
		if kind, ok := m["request_type"].(string); ok {
			label = kind
		}
	}
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			c.log.Debug("rpc call failed", zap.String("method", label), zap.Error(err))
		}
		metrics.ChainCalls.WithLabelValues(label, result).Inc()
	}()

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      strconv.FormatUint(c.nextID.Add(1), 10),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("chain: encode %s: %w", label, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("chain: build %s request: %w", label, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chain: %s: %w", label, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("chain: read %s response: %w", label, err)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("chain: %s: unexpected response (status %d): %w", label, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}

	// query failures are sometimes reported inside the result
	var probe struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(decoded.Result, &probe) == nil && probe.Error != "" {
		return &RPCError{Code: -32000, Message: "Server error", Data: mustQuote(probe.Error)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("chain: decode %s result: %w", label, err)
	}
	return nil
}

func mustQuote(value string) json.RawMessage {
	raw, _ := json.Marshal(value)
	return raw
}

type blockHeader struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

func (c *Client) latestBlock(ctx context.Context) (*blockHeader, error) {
	var block struct {
		Header blockHeader `json:"header"`
	}
	if err := c.call(ctx, "block", map[string]interface{}{"finality": "final"}, &block); err != nil {
		return nil, err
	}
	return &block.Header, nil
}

// LatestBlockHeight returns the height of the latest final block.
func (c *Client) LatestBlockHeight(ctx context.Context) (uint64, error) {
	header, err := c.latestBlock(ctx)
	if err != nil {
		return 0, err
	}
	return header.Height, nil
}

// AccessKeys lists every access key registered on the account.
func (c *Client) AccessKeys(ctx context.Context, accountID string) ([]AccessKey, error) {
	var result struct {
		Keys []struct {
			PublicKey string `json:"public_key"`
			AccessKey struct {
				Nonce      uint64     `json:"nonce"`
				Permission Permission `json:"permission"`
			} `json:"access_key"`
		} `json:"keys"`
	}
	err := c.call(ctx, "query", map[string]interface{}{
		"request_type": "view_access_key_list",
		"finality":     "final",
		"account_id":   accountID,
	}, &result)
	if err != nil {
		return nil, err
	}

	keys := make([]AccessKey, 0, len(result.Keys))
	for _, key := range result.Keys {
		keys = append(keys, AccessKey{
			PublicKey:  key.PublicKey,
			Nonce:      key.AccessKey.Nonce,
			Permission: key.AccessKey.Permission,
		})
	}
	return keys, nil
}

func (c *Client) accessKeyNonce(ctx context.Context, accountID, publicKey string) (uint64, error) {
	var result struct {
		Nonce uint64 `json:"nonce"`
	}
	err := c.call(ctx, "query", map[string]interface{}{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   publicKey,
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.Nonce, nil
}

// AccountState returns balance and deployed code hash for the account.
func (c *Client) AccountState(ctx context.Context, accountID string) (*AccountState, error) {
	var state AccountState
	err := c.call(ctx, "query", map[string]interface{}{
		"request_type": "view_account",
		"finality":     "final",
		"account_id":   accountID,
	}, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ViewFunction calls a read-only contract method and returns its raw result bytes.
func (c *Client) ViewFunction(ctx context.Context, contractID, method string, args interface{}) ([]byte, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("chain: encode %s args: %w", method, err)
	}

	var result struct {
		Result []int `json:"result"`
	}
	err = c.call(ctx, "query", map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contractID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(encoded),
	}, &result)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(result.Result))
	for i, b := range result.Result {
		out[i] = byte(b)
	}
	return out, nil
}

// PendingRequest fetches a multisig request from the account's contract.
func (c *Client) PendingRequest(ctx context.Context, accountID string, requestID int64) (*PendingRequest, error) {
	raw, err := c.ViewFunction(ctx, accountID, "get_request", map[string]int64{"request_id": requestID})
	if err != nil {
		return nil, err
	}
	var request PendingRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("chain: decode request %d: %w", requestID, err)
	}
	return &request, nil
}

// ConfirmRequest signs confirm(request_id) with the account's derived 2FA key.
func (c *Client) ConfirmRequest(ctx context.Context, accountID string, requestID int64) (*Outcome, error) {
	if c.cfg.Deriver == nil {
		return nil, errors.New("chain: 2fa key deriver is not configured")
	}
	args, err := json.Marshal(map[string]int64{"request_id": requestID})
	if err != nil {
		return nil, err
	}
	return c.SubmitFunctionCall(ctx, FunctionCall{
		SignerID:   accountID,
		SignerKey:  c.cfg.Deriver.PrivateKey(accountID),
		ReceiverID: accountID,
		MethodName: "confirm",
		Args:       args,
		Gas:        c.cfg.ConfirmGas,
	})
}

// SubmitFunctionCall signs and broadcasts a single FunctionCall transaction and waits for it to commit.
func (c *Client) SubmitFunctionCall(ctx context.Context, call FunctionCall) (*Outcome, error) {
	signerID := call.SignerID
	key := ed25519.PrivateKey(call.SignerKey)
	if signerID == "" {
		signerID = c.cfg.CreatorAccountID
		if signerID == "" {
			return nil, errors.New("chain: creator account is not configured")
		}
	}
	if key == nil {
		next, err := c.cfg.CreatorKeys.Next()
		if err != nil {
			return nil, err
		}
		key = next
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("chain: invalid signer key length %d", len(key))
	}
	if call.Gas == 0 {
		call.Gas = c.cfg.ConfirmGas
	}
	deposit, err := parseYocto(call.Deposit)
	if err != nil {
		return nil, err
	}

	publicKey := key.Public().(ed25519.PublicKey)
	nonce, err := c.accessKeyNonce(ctx, signerID, FormatPublicKey(publicKey))
	if err != nil {
		return nil, err
	}
	header, err := c.latestBlock(ctx)
	if err != nil {
		return nil, err
	}
	blockHash, err := base58.Decode(header.Hash)
	if err != nil {
		return nil, fmt.Errorf("chain: decode block hash: %w", err)
	}

	tx := &transaction{
		SignerID:   signerID,
		PublicKey:  publicKey,
		Nonce:      nonce + 1,
		ReceiverID: call.ReceiverID,
		BlockHash:  blockHash,
		MethodName: call.MethodName,
		Args:       call.Args,
		Gas:        call.Gas,
		Deposit:    deposit,
	}
	signed, hash, err := tx.sign(key)
	if err != nil {
		return nil, err
	}

	c.log.Info("broadcasting function call",
		zap.String("signer", signerID),
		zap.String("receiver", call.ReceiverID),
		zap.String("method", call.MethodName),
		zap.String("tx_hash", base58.Encode(hash[:])),
	)

	var result struct {
		Status      json.RawMessage `json:"status"`
		Transaction struct {
			Hash string `json:"hash"`
		} `json:"transaction"`
	}
	if err := c.call(ctx, "broadcast_tx_commit", []string{base64.StdEncoding.EncodeToString(signed)}, &result); err != nil {
		return nil, err
	}
	return parseOutcome(result.Transaction.Hash, result.Status)
}

func parseOutcome(hash string, status json.RawMessage) (*Outcome, error) {
	var parsed struct {
		SuccessValue *string         `json:"SuccessValue"`
		Failure      json.RawMessage `json:"Failure"`
	}
	if err := json.Unmarshal(status, &parsed); err != nil {
		return nil, fmt.Errorf("chain: decode status for %s: %w", hash, err)
	}
	if len(parsed.Failure) > 0 {
		return nil, &ExecutionError{TransactionHash: hash, Failure: parsed.Failure}
	}

	outcome := &Outcome{TransactionHash: hash, Status: status}
	if parsed.SuccessValue != nil && *parsed.SuccessValue != "" {
		value, err := base64.StdEncoding.DecodeString(*parsed.SuccessValue)
		if err != nil {
			return nil, fmt.Errorf("chain: decode success value for %s: %w", hash, err)
		}
		if json.Valid(value) {
			outcome.SuccessValue = value
		} else {
			outcome.SuccessValue = mustQuote(string(value))
		}
	}
	return outcome, nil
}
