package testutil

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/walletrecovery/internal/api"
	"github.com/charlesng35/walletrecovery/internal/auth"
	"github.com/charlesng35/walletrecovery/internal/chain"
	"github.com/charlesng35/walletrecovery/internal/chain/chaintest"
	sharedtestutil "github.com/charlesng35/walletrecovery/internal/database/testutil"
	"github.com/charlesng35/walletrecovery/internal/middleware"
	"github.com/charlesng35/walletrecovery/internal/models"
	"github.com/charlesng35/walletrecovery/internal/monitoring"
	"github.com/charlesng35/walletrecovery/internal/recovery"
	"github.com/charlesng35/walletrecovery/internal/services"
	"github.com/charlesng35/walletrecovery/pkg/response"
)

// ChainHeight is the block height the fake chain reports.
const ChainHeight uint64 = 5000

// MultisigCodeHash marks an account as running the multisig contract.
const MultisigCodeHash = "7GqX9t2Ub3r1pZxvT1q3V7PfWkY8oEhWjW5Gd3tBvJxN"

// Message is one delivered email or SMS.
type Message struct {
	Channel string
	To      string
	Subject string
	Text    string
}

// Outbox records dispatched messages instead of sending them.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

func (o *Outbox) SendSMS(_ context.Context, to, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, Message{Channel: "sms", To: to, Text: text})
	return nil
}

func (o *Outbox) SendEmail(_ context.Context, to, subject, text, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, Message{Channel: "email", To: to, Subject: subject, Text: text})
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// Env is a fully wired router over an in-memory database, a fake chain and a recording outbox.
type Env struct {
	T      *testing.T
	Router *gin.Engine
	Store  recovery.Store
	Chain  *chaintest.Fake
	Outbox *Outbox

	keys map[string]ed25519.PrivateKey
}

// EnvOption customises NewEnv.
type EnvOption func(*api.Dependencies)

// WithRateLimit enables the code-sending rate limit with an in-memory store.
func WithRateLimit(requests int, window time.Duration) EnvOption {
	return func(deps *api.Dependencies) {
		deps.RateStore = middleware.NewMemoryRateStore()
		deps.RateLimit = api.RateLimit{Requests: requests, Window: window}
	}
}

// NewEnv provisions a fresh handler test environment.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	store, err := recovery.NewGormStore(db)
	require.NoError(t, err)

	fake := chaintest.New(ChainHeight)
	outbox := &Outbox{}

	codes, err := services.NewSecurityCodeService(store)
	require.NoError(t, err)
	deriver, err := chain.NewKeyDeriver("handler-test-seed")
	require.NoError(t, err)
	twoFactor, err := services.NewTwoFactorService(store, codes, fake, outbox, deriver, []string{MultisigCodeHash})
	require.NoError(t, err)
	methods, err := services.NewRecoveryMethodService(store, codes, outbox)
	require.NoError(t, err)
	verifier, err := auth.NewSignatureVerifier(fake)
	require.NoError(t, err)

	deps := api.Dependencies{
		Verifier:  verifier,
		TwoFactor: twoFactor,
		Methods:   methods,
		Health:    monitoring.NewHealthManager(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	router, err := api.NewRouter(deps)
	require.NoError(t, err)

	return &Env{
		T:      t,
		Router: router,
		Store:  store,
		Chain:  fake,
		Outbox: outbox,
		keys:   map[string]ed25519.PrivateKey{},
	}
}

// Account registers a full access key for accountID on the fake chain.
func (e *Env) Account(accountID string) {
	e.T.Helper()
	if _, ok := e.keys[accountID]; ok {
		return
	}
	e.keys[accountID] = e.Chain.AddFullAccessKey(accountID)
}

// Signed returns body extended with a valid ownership proof for accountID at the current height.
func (e *Env) Signed(accountID string, body map[string]any) map[string]any {
	e.T.Helper()
	e.Account(accountID)

	height := int64(ChainHeight)
	out := map[string]any{
		"accountId":            accountID,
		"blockNumber":          height,
		"blockNumberSignature": chaintest.SignHeight(e.keys[accountID], height),
	}
	for k, v := range body {
		out[k] = v
	}
	return out
}

// PendingCode reads the code waiting on the identified method.
func (e *Env) PendingCode(accountID string, kind models.MethodKind) string {
	e.T.Helper()
	method, err := e.Store.Get(context.Background(), recovery.Identity{AccountID: accountID, Kind: kind})
	require.NoError(e.T, err)
	require.True(e.T, method.HasPendingCode(), "expected a pending code for %s", kind)
	return *method.SecurityCode
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes a JSON request against the router.
func (e *Env) Request(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.T, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, path, &buf)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// Post sends body to path with an ownership proof for accountID.
func (e *Env) Post(accountID, path string, body map[string]any) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.Request(http.MethodPost, path, e.Signed(accountID, body))
}
