// Package chaintest provides an in-memory chain.Port for tests.
package chaintest

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"

	"github.com/charlesng35/walletrecovery/internal/chain"
)

// Confirmation records one ConfirmRequest call.
type Confirmation struct {
	AccountID string
	RequestID int64
}

// Fake is a scriptable chain.Port. Zero values behave like an empty chain at height 0.
type Fake struct {
	mu sync.Mutex

	Height        uint64
	HeightErr     error
	Keys          map[string][]chain.AccessKey
	KeysErr       error
	States        map[string]*chain.AccountState
	Requests      map[int64]*chain.PendingRequest
	RequestErr    error
	ConfirmErr    error
	Confirmations []Confirmation
	Calls         []chain.FunctionCall
}

var _ chain.Port = (*Fake)(nil)

// New returns a fake at the given height.
func New(height uint64) *Fake {
	return &Fake{
		Height:   height,
		Keys:     map[string][]chain.AccessKey{},
		States:   map[string]*chain.AccountState{},
		Requests: map[int64]*chain.PendingRequest{},
	}
}

// AddFullAccessKey registers a fresh full-access key on the account and returns its private half.
func (f *Fake) AddFullAccessKey(accountID string) ed25519.PrivateKey {
	return f.AddKey(accountID, chain.Permission{FullAccess: true})
}

// AddKey registers a fresh key with the given permission and returns its private half.
func (f *Fake) AddKey(accountID string, permission chain.Permission) ed25519.PrivateKey {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Keys[accountID] = append(f.Keys[accountID], chain.AccessKey{
		PublicKey:  chain.FormatPublicKey(pub),
		Permission: permission,
	})
	return priv
}

// SetCodeHash records the contract code hash deployed on the account.
func (f *Fake) SetCodeHash(accountID, codeHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States[accountID] = &chain.AccountState{Amount: "0", Locked: "0", CodeHash: codeHash}
}

// SignHeight produces the base64 signature the ownership check expects.
func SignHeight(key ed25519.PrivateKey, height int64) string {
	digest := sha256.Sum256([]byte(strconv.FormatInt(height, 10)))
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, digest[:]))
}

func (f *Fake) LatestBlockHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Height, f.HeightErr
}

func (f *Fake) AccessKeys(ctx context.Context, accountID string) ([]chain.AccessKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.KeysErr != nil {
		return nil, f.KeysErr
	}
	return append([]chain.AccessKey(nil), f.Keys[accountID]...), nil
}

func (f *Fake) AccountState(ctx context.Context, accountID string) (*chain.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.States[accountID]; ok {
		copied := *state
		return &copied, nil
	}
	return &chain.AccountState{Amount: "0", Locked: "0", CodeHash: "11111111111111111111111111111111"}, nil
}

func (f *Fake) PendingRequest(ctx context.Context, accountID string, requestID int64) (*chain.PendingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RequestErr != nil {
		return nil, f.RequestErr
	}
	request, ok := f.Requests[requestID]
	if !ok {
		return nil, &chain.RPCError{Code: -32000, Message: "Server error", Data: []byte(fmt.Sprintf("%q", "No such request"))}
	}
	return request, nil
}

func (f *Fake) ConfirmRequest(ctx context.Context, accountID string, requestID int64) (*chain.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Confirmations = append(f.Confirmations, Confirmation{AccountID: accountID, RequestID: requestID})
	if f.ConfirmErr != nil {
		return nil, f.ConfirmErr
	}
	return &chain.Outcome{TransactionHash: fmt.Sprintf("confirm-%s-%d", accountID, requestID), SuccessValue: []byte("true")}, nil
}

func (f *Fake) SubmitFunctionCall(ctx context.Context, call chain.FunctionCall) (*chain.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
	return &chain.Outcome{TransactionHash: fmt.Sprintf("call-%d", len(f.Calls))}, nil
}

// ConfirmationCount reports how many confirm calls were made.
func (f *Fake) ConfirmationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Confirmations)
}
