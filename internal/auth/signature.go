package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/walletrecovery/internal/chain"
	apperrors "github.com/charlesng35/walletrecovery/pkg/errors"
	"github.com/charlesng35/walletrecovery/pkg/logger"
	"github.com/charlesng35/walletrecovery/pkg/metrics"
)

// BlockHeightWindow is how many blocks behind the chain head a signed height may be.
const BlockHeightWindow = 100

// OwnershipMethods are the contract methods a function-call key must be allowed to call
// for its signature to count as proof of ownership.
var OwnershipMethods = []string{
	"__wallet__metadata",
	"add_request",
	"add_request_and_confirm",
	"delete_request",
	"confirm",
}

// SignatureVerifier checks that a caller controls an account by verifying a signature over a recent block height.
type SignatureVerifier struct {
	chain   chain.Port
	allowed map[string]struct{}
	log     *zap.Logger
}

// NewSignatureVerifier constructs a verifier backed by the chain port.
func NewSignatureVerifier(port chain.Port) (*SignatureVerifier, error) {
	if port == nil {
		return nil, errors.New("auth: chain port is required")
	}
	allowed := make(map[string]struct{}, len(OwnershipMethods))
	for _, method := range OwnershipMethods {
		allowed[method] = struct{}{}
	}
	return &SignatureVerifier{chain: port, allowed: allowed, log: logger.WithModule("ownership")}, nil
}

// VerifyOwnership returns nil when signature is a valid base64 ed25519 signature of
// sha256(decimal blockHeight) by an eligible key of accountID, and blockHeight lies within
// the freshness window ending at the current chain head.
func (v *SignatureVerifier) VerifyOwnership(ctx context.Context, accountID string, blockHeight int64, signature string) error {
	err := v.verify(ctx, accountID, blockHeight, signature)
	metrics.OwnershipChecks.WithLabelValues(ownershipResult(err)).Inc()
	if err != nil {
		v.log.Debug("ownership check failed",
			zap.String("account_id", accountID),
			zap.Int64("block_height", blockHeight),
			zap.Error(err),
		)
	}
	return err
}

func (v *SignatureVerifier) verify(ctx context.Context, accountID string, blockHeight int64, signature string) error {
	accountID = strings.TrimSpace(accountID)
	signature = strings.TrimSpace(signature)
	if accountID == "" || signature == "" {
		return apperrors.ErrMissingParameters
	}

	current, err := v.chain.LatestBlockHeight(ctx)
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(err)
	}
	if !withinWindow(blockHeight, current) {
		return apperrors.ErrBlockHeightStale
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return apperrors.ErrSignatureMismatch
	}

	keys, err := v.chain.AccessKeys(ctx, accountID)
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(err)
	}

	digest := sha256.Sum256([]byte(strconv.FormatInt(blockHeight, 10)))
	for _, key := range keys {
		if !v.eligible(accountID, key) {
			continue
		}
		pub, err := chain.ParsePublicKey(key.PublicKey)
		if err != nil {
			continue
		}
		if ed25519.Verify(pub, digest[:], sig) {
			return nil
		}
	}
	return apperrors.ErrSignatureMismatch
}

func withinWindow(height int64, current uint64) bool {
	if height <= 0 {
		return false
	}
	h := uint64(height)
	return h <= current && h+BlockHeightWindow > current
}

func (v *SignatureVerifier) eligible(accountID string, key chain.AccessKey) bool {
	if key.Permission.FullAccess {
		return true
	}
	scope := key.Permission.FunctionCall
	if scope == nil || scope.ReceiverID != accountID {
		return false
	}
	for _, method := range scope.MethodNames {
		if _, ok := v.allowed[method]; ok {
			return true
		}
	}
	return false
}

func ownershipResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrMissingParameters):
		return "missing"
	case errors.Is(err, apperrors.ErrBlockHeightStale):
		return "stale"
	case errors.Is(err, apperrors.ErrSignatureMismatch):
		return "mismatch"
	default:
		return "error"
	}
}
