package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/walletrecovery/internal/chain"
	apperrors "github.com/charlesng35/walletrecovery/pkg/errors"
	"github.com/charlesng35/walletrecovery/pkg/response"
)

// MaxBodyBytes caps request bodies read by the ownership gate.
const MaxBodyBytes = 1 << 20

// ContextAccountID is the gin context key holding the account whose ownership was proven.
const ContextAccountID = "accountId"

// OwnershipVerifier proves control of an account.
type OwnershipVerifier interface {
	VerifyOwnership(ctx context.Context, accountID string, blockHeight int64, signature string) error
}

type ownershipProof struct {
	AccountID            string       `json:"accountId"`
	BlockNumber          *chain.Int64 `json:"blockNumber"`
	BlockNumberSignature string       `json:"blockNumberSignature"`
}

// AccountOwnership rejects requests whose JSON body does not carry a valid signed block number for
// accountId. The body is restored so handlers can bind it again.
func AccountOwnership(verifier OwnershipVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		var proof ownershipProof
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &proof); err != nil {
				response.Error(c, apperrors.NewBadRequest("invalid JSON payload"))
				c.Abort()
				return
			}
		}

		accountID := strings.TrimSpace(proof.AccountID)
		if accountID == "" || proof.BlockNumber == nil || strings.TrimSpace(proof.BlockNumberSignature) == "" {
			response.Error(c, apperrors.ErrMissingParameters)
			c.Abort()
			return
		}

		if err := verifier.VerifyOwnership(c.Request.Context(), accountID, int64(*proof.BlockNumber), proof.BlockNumberSignature); err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextAccountID, accountID)
		c.Next()
	}
}

// AccountID returns the account proven by AccountOwnership, or "".
func AccountID(c *gin.Context) string {
	return c.GetString(ContextAccountID)
}

func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes+1))
	_ = c.Request.Body.Close()
	if err != nil {
		return nil, apperrors.NewBadRequest("unable to read request body")
	}
	if len(body) > MaxBodyBytes {
		return nil, apperrors.NewBadRequest("request body too large")
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
