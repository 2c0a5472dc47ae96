package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Port is the read/write view of the chain used by the recovery services.
type Port interface {
	LatestBlockHeight(ctx context.Context) (uint64, error)
	AccessKeys(ctx context.Context, accountID string) ([]AccessKey, error)
	AccountState(ctx context.Context, accountID string) (*AccountState, error)
	PendingRequest(ctx context.Context, accountID string, requestID int64) (*PendingRequest, error)
	ConfirmRequest(ctx context.Context, accountID string, requestID int64) (*Outcome, error)
	SubmitFunctionCall(ctx context.Context, call FunctionCall) (*Outcome, error)
}

// AccessKey is a public key registered on an account together with its permission.
type AccessKey struct {
	PublicKey  string
	Nonce      uint64
	Permission Permission
}

// Permission is either full access or a function-call scope.
type Permission struct {
	FullAccess   bool
	FunctionCall *FunctionCallPermission
}

// FunctionCallPermission limits a key to calling methods on one receiver.
type FunctionCallPermission struct {
	Allowance   *string  `json:"allowance"`
	ReceiverID  string   `json:"receiver_id"`
	MethodNames []string `json:"method_names"`
}

// UnmarshalJSON accepts the "FullAccess" string form and the {"FunctionCall": {...}} object form.
func (p *Permission) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var kind string
		if err := json.Unmarshal(data, &kind); err != nil {
			return err
		}
		if kind != "FullAccess" {
			return fmt.Errorf("chain: unknown permission %q", kind)
		}
		*p = Permission{FullAccess: true}
		return nil
	}

	var scoped struct {
		FunctionCall *FunctionCallPermission `json:"FunctionCall"`
	}
	if err := json.Unmarshal(data, &scoped); err != nil {
		return err
	}
	if scoped.FunctionCall == nil {
		return fmt.Errorf("chain: unknown permission %s", string(data))
	}
	*p = Permission{FunctionCall: scoped.FunctionCall}
	return nil
}

// AccountState is the subset of view_account the services need.
type AccountState struct {
	Amount   string `json:"amount"`
	Locked   string `json:"locked"`
	CodeHash string `json:"code_hash"`
}

// PendingRequest is a multisig request awaiting confirmation.
type PendingRequest struct {
	ReceiverID string   `json:"receiver_id"`
	Actions    []Action `json:"actions"`
}

// Action kinds carried by multisig requests.
const (
	ActionFunctionCall = "FunctionCall"
	ActionTransfer     = "Transfer"
	ActionStake        = "Stake"
	ActionAddKey       = "AddKey"
	ActionDeleteKey    = "DeleteKey"
)

// Action is one entry of a multisig request. Which fields are set depends on Type.
type Action struct {
	Type       string         `json:"type"`
	MethodName string         `json:"method_name,omitempty"`
	Args       string         `json:"args,omitempty"` // base64
	Deposit    string         `json:"deposit,omitempty"`
	Gas        Uint64         `json:"gas,omitempty"`
	Amount     string         `json:"amount,omitempty"`
	PublicKey  string         `json:"public_key,omitempty"`
	Permission *KeyPermission `json:"permission,omitempty"`
}

// KeyPermission is the scope attached to an AddKey action. Absent means full access.
type KeyPermission struct {
	Allowance   *string  `json:"allowance"`
	ReceiverID  string   `json:"receiver_id"`
	MethodNames []string `json:"method_names"`
}

// AddsFullAccessKeyTo reports whether the request adds a full-access key to accountID.
func (r *PendingRequest) AddsFullAccessKeyTo(accountID string) bool {
	if r == nil || r.ReceiverID != accountID {
		return false
	}
	for _, action := range r.Actions {
		if action.Type == ActionAddKey && action.Permission == nil {
			return true
		}
	}
	return false
}

// Uint64 decodes u64 values the contract may serialise as either numbers or strings.
type Uint64 uint64

func (u *Uint64) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("chain: invalid u64 %q: %w", raw, err)
	}
	*u = Uint64(v)
	return nil
}

func (u Uint64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(u), 10))), nil
}

// Int64 accepts block heights and request ids sent either as JSON numbers or numeric strings.
type Int64 int64

func (i *Int64) UnmarshalJSON(data []byte) error {
	raw := string(bytes.TrimSpace(data))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("chain: invalid integer %s", string(data))
	}
	*i = Int64(v)
	return nil
}

// Outcome summarises a committed transaction.
type Outcome struct {
	TransactionHash string          `json:"transactionHash"`
	Status          json.RawMessage `json:"status"`
	SuccessValue    json.RawMessage `json:"successValue,omitempty"`
}

// FunctionCall describes a signed call. An empty SignerID signs with the creator account key ring.
type FunctionCall struct {
	SignerID   string
	SignerKey  []byte // ed25519 private key; nil uses the key ring
	ReceiverID string
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    string // yocto, decimal string
}

// RPCError is a JSON-RPC level error returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Name    string          `json:"name,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Cause   json.RawMessage `json:"cause,omitempty"`
}

func (e *RPCError) Error() string {
	detail := strings.Trim(string(e.Data), `"`)
	if detail == "" {
		detail = string(e.Cause)
	}
	if detail == "" {
		return fmt.Sprintf("chain rpc error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("chain rpc error %d: %s: %s", e.Code, e.Message, detail)
}

// ExecutionError is returned when a transaction was included but failed.
type ExecutionError struct {
	TransactionHash string
	Failure         json.RawMessage
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %s", e.TransactionHash, string(e.Failure))
}
