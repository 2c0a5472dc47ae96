package handlers_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/walletrecovery/internal/chain"
	"github.com/charlesng35/walletrecovery/internal/handlers/testutil"
	"github.com/charlesng35/walletrecovery/internal/models"
	"github.com/charlesng35/walletrecovery/internal/services"
)

func emailMethod(detail string) map[string]any {
	return map[string]any{"method": map[string]any{"kind": "2fa-email", "detail": detail}}
}

func TestGetAccessKey(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Post("alice.near", "/2fa/getAccessKey", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var payload struct {
		PublicKey string `json:"publicKey"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &payload)
	require.True(t, strings.HasPrefix(payload.PublicKey, "ed25519:"), payload.PublicKey)

	again := env.Post("alice.near", "/2fa/getAccessKey", nil)
	var second struct {
		PublicKey string `json:"publicKey"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, again).Data, &second)
	require.Equal(t, payload.PublicKey, second.PublicKey)
}

func TestTwoFactorRoutesRequireOwnership(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/2fa/init", emailMethod("a@example.com"))
	require.Equal(t, http.StatusForbidden, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.Equal(t, "ownership.missing_parameters", resp.Error.Code)

	env.Account("alice.near")
	stale := map[string]any{
		"accountId":            "alice.near",
		"blockNumber":          int64(testutil.ChainHeight) - 100,
		"blockNumberSignature": "c2lnbmF0dXJl",
	}
	w = env.Request(http.MethodPost, "/2fa/init", stale)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "ownership.block_height_stale", testutil.DecodeResponse(t, w).Error.Code)
}

func TestInitAndVerifyActivation(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Post("alice.near", "/2fa/init", emailMethod("a@example.com"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var initResult services.TwoFactorResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &initResult)
	require.Equal(t, services.MessageTwoFactorInitialized, initResult.Message)
	require.Equal(t, models.NoRequestID, initResult.RequestID)

	sent := env.Outbox.Messages()
	require.Len(t, sent, 1)
	require.Equal(t, "email", sent[0].Channel)
	require.Equal(t, "a@example.com", sent[0].To)

	code := env.PendingCode("alice.near", models.MethodTwoFactorMail)
	require.Len(t, code, 6)
	require.Contains(t, sent[0].Text, code)

	w = env.Post("alice.near", "/2fa/verify", map[string]any{"securityCode": code, "requestId": -1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var verified services.TwoFactorResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &verified)
	require.Equal(t, services.MessageTwoFactorVerified, verified.Message)
	require.Equal(t, models.NoRequestID, verified.RequestID)

	w = env.Post("alice.near", "/2fa/verify", map[string]any{"securityCode": code, "requestId": -1})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "code.method_not_found", testutil.DecodeResponse(t, w).Error.Code)
}

func TestInitRejectsPhoneKind(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Post("bob.near", "/2fa/init", map[string]any{"method": map[string]any{"kind": "2fa-phone", "detail": "+15551234567"}})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "2fa.invalid_method_kind", testutil.DecodeResponse(t, w).Error.Code)
	require.Empty(t, env.Outbox.Messages())
}

func TestSendAndVerifyPendingRequest(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Chain.Requests[7] = &chain.PendingRequest{
		ReceiverID: "bob.near",
		Actions:    []chain.Action{{Type: chain.ActionTransfer, Amount: "1500000000000000000000000"}},
	}

	require.Equal(t, http.StatusOK, env.Post("alice.near", "/2fa/init", emailMethod("a@example.com")).Code)

	w := env.Post("alice.near", "/2fa/send", map[string]any{"requestId": "7"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sendResult services.TwoFactorResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &sendResult)
	require.Equal(t, int64(7), sendResult.RequestID)

	sent := env.Outbox.Messages()
	require.Len(t, sent, 2)
	require.Contains(t, sent[1].Text, "bob.near")

	code := env.PendingCode("alice.near", models.MethodTwoFactorMail)
	w = env.Post("alice.near", "/2fa/verify", map[string]any{"securityCode": code, "requestId": 7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var verified services.TwoFactorResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &verified)
	require.NotNil(t, verified.Outcome)
	require.Equal(t, "confirm-alice.near-7", verified.Outcome.TransactionHash)
	require.Equal(t, 1, env.Chain.ConfirmationCount())
}

func TestVerifyRequestIDMismatch(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Chain.Requests[5] = &chain.PendingRequest{
		ReceiverID: "alice.near",
		Actions:    []chain.Action{{Type: chain.ActionTransfer, Amount: "1"}},
	}

	require.Equal(t, http.StatusOK, env.Post("alice.near", "/2fa/init", emailMethod("a@example.com")).Code)
	require.Equal(t, http.StatusOK, env.Post("alice.near", "/2fa/send", map[string]any{"requestId": 5}).Code)
	code := env.PendingCode("alice.near", models.MethodTwoFactorMail)

	w := env.Post("alice.near", "/2fa/verify", map[string]any{"securityCode": code, "requestId": "6"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "code.request_id_mismatch", testutil.DecodeResponse(t, w).Error.Code)
	require.Zero(t, env.Chain.ConfirmationCount())
}

func TestSendUnknownRequest(t *testing.T) {
	env := testutil.NewEnv(t)
	require.Equal(t, http.StatusOK, env.Post("alice.near", "/2fa/init", emailMethod("a@example.com")).Code)

	w := env.Post("alice.near", "/2fa/send", map[string]any{"requestId": 99})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "2fa.request_not_found", resp.Error.Code)
	require.True(t, strings.HasPrefix(resp.Error.Message, "could not find request id: "), resp.Error.Message)
}

func TestSendWithoutTwoFactor(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Post("carol.near", "/2fa/send", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "2fa.not_enabled", testutil.DecodeResponse(t, w).Error.Code)
}

func TestVerifyRejectsMalformedRequestID(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Post("alice.near", "/2fa/verify", map[string]any{"securityCode": "123456", "requestId": "seven"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyClassifiesEmptyCodeAsMalformed(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Post("alice.near", "/2fa/init", emailMethod("a@example.com"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, body := range []map[string]any{
		{"securityCode": "", "requestId": -1},
		{"requestId": -1},
	} {
		w = env.Post("alice.near", "/2fa/verify", body)
		require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
		require.Equal(t, "code.malformed", testutil.DecodeResponse(t, w).Error.Code)
	}
	require.Len(t, env.PendingCode("alice.near", models.MethodTwoFactorMail), 6)
}

func TestVerifyChainFailureSurfaces(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Chain.Requests[3] = &chain.PendingRequest{
		ReceiverID: "alice.near",
		Actions:    []chain.Action{{Type: chain.ActionTransfer, Amount: "1"}},
	}
	env.Chain.ConfirmErr = errors.New("Exceeded the prepaid gas")

	require.Equal(t, http.StatusOK, env.Post("alice.near", "/2fa/init", emailMethod("a@example.com")).Code)
	require.Equal(t, http.StatusOK, env.Post("alice.near", "/2fa/send", map[string]any{"requestId": 3}).Code)
	code := env.PendingCode("alice.near", models.MethodTwoFactorMail)

	w := env.Post("alice.near", "/2fa/verify", map[string]any{"securityCode": code, "requestId": 3})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "chain.confirm_failed", resp.Error.Code)
	require.Equal(t, "Exceeded the prepaid gas", resp.Error.Message)
}

func TestCodeRoutesAreRateLimited(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithRateLimit(1, time.Minute))

	require.Equal(t, http.StatusOK, env.Post("alice.near", "/2fa/init", emailMethod("a@example.com")).Code)

	w := env.Post("alice.near", "/2fa/init", emailMethod("a@example.com"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", testutil.DecodeResponse(t, w).Error.Code)

	require.Equal(t, http.StatusOK, env.Post("bob.near", "/2fa/init", emailMethod("b@example.com")).Code)
}
