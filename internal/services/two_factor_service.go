package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/walletrecovery/internal/chain"
	"github.com/charlesng35/walletrecovery/internal/messages"
	"github.com/charlesng35/walletrecovery/internal/models"
	"github.com/charlesng35/walletrecovery/internal/notifications"
	"github.com/charlesng35/walletrecovery/internal/recovery"
	"github.com/charlesng35/walletrecovery/pkg/crypto"
	apperrors "github.com/charlesng35/walletrecovery/pkg/errors"
	"github.com/charlesng35/walletrecovery/pkg/logger"
)

// Response messages returned by the 2FA flow.
const (
	MessageTwoFactorInitialized = "2fa initialized and code sent to verify method"
	MessageTwoFactorConfirmed   = "2fa method confirmed via existing recovery method"
	MessageTwoFactorCodeSent    = "2fa code sent"
	MessageTwoFactorVerified    = "2fa code verified"
)

// MethodInput is the 2FA method a caller asks for.
type MethodInput struct {
	Kind   models.MethodKind `json:"kind"`
	Detail string            `json:"detail"`
}

// TwoFactorResult is returned by InitCode, SendNewCode and VerifyCode.
type TwoFactorResult struct {
	Message   string         `json:"message"`
	RequestID int64          `json:"requestId"`
	Confirmed bool           `json:"confirmed,omitempty"`
	Outcome   *chain.Outcome `json:"outcome,omitempty"`
}

// TwoFactorService drives the init, send and verify protocol for multisig confirmation codes.
type TwoFactorService struct {
	store      recovery.Store
	codes      *SecurityCodeService
	chain      chain.Port
	dispatcher notifications.Dispatcher
	deriver    *chain.KeyDeriver
	multisig   map[string]struct{}
	log        *zap.Logger
}

// NewTwoFactorService wires the 2FA controller. multisigCodeHashes lists the contract code hashes that
// mark an account as already running the multisig contract.
func NewTwoFactorService(
	store recovery.Store,
	codes *SecurityCodeService,
	port chain.Port,
	dispatcher notifications.Dispatcher,
	deriver *chain.KeyDeriver,
	multisigCodeHashes []string,
) (*TwoFactorService, error) {
	switch {
	case store == nil:
		return nil, errors.New("two factor service: store is required")
	case codes == nil:
		return nil, errors.New("two factor service: security code service is required")
	case port == nil:
		return nil, errors.New("two factor service: chain port is required")
	case dispatcher == nil:
		return nil, errors.New("two factor service: dispatcher is required")
	case deriver == nil:
		return nil, errors.New("two factor service: key deriver is required")
	}

	hashes := make(map[string]struct{}, len(multisigCodeHashes))
	for _, hash := range multisigCodeHashes {
		if hash = strings.TrimSpace(hash); hash != "" {
			hashes[hash] = struct{}{}
		}
	}

	return &TwoFactorService{
		store:      store,
		codes:      codes,
		chain:      port,
		dispatcher: dispatcher,
		deriver:    deriver,
		multisig:   hashes,
		log:        logger.WithModule("two_factor"),
	}, nil
}

// GetAccessKey returns the public key this service confirms multisig requests with for the account.
func (s *TwoFactorService) GetAccessKey(ctx context.Context, accountID string) (string, error) {
	return s.deriver.PublicKey(accountID), nil
}

// InitCode starts 2FA activation. Only email activation is accepted here.
func (s *TwoFactorService) InitCode(ctx context.Context, accountID string, method MethodInput) (*TwoFactorResult, error) {
	if method.Kind != models.MethodTwoFactorMail {
		return nil, apperrors.ErrInvalidMethodKind
	}
	detail := strings.TrimSpace(method.Detail)
	if detail == "" {
		return nil, apperrors.NewBadRequest("method detail is required")
	}

	existing, err := recovery.TwoFactorMethod(ctx, s.store, accountID)
	if err != nil && !errors.Is(err, recovery.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		deployed, err := s.hasMultisigContract(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if deployed {
			return nil, apperrors.ErrAlreadyConfigured
		}
	}

	edit := func(m *models.RecoveryMethod) error {
		m.Kind = method.Kind
		m.Detail = &detail
		return nil
	}
	target := recovery.Identity{AccountID: accountID, Kind: method.Kind}
	if existing != nil {
		target = recovery.IdentityOf(existing)
	}

	confirmed, err := recovery.FindByDetail(ctx, s.store, accountID, method.Kind.Channel(), detail)
	if err != nil && !errors.Is(err, recovery.ErrNotFound) {
		return nil, err
	}
	if confirmed != nil && confirmed.Confirmed() {
		if err := s.upsertConfirmed(ctx, target, existing != nil, accountID, method.Kind, detail); err != nil {
			return nil, err
		}
		s.log.Info("2fa confirmed via existing recovery method", zap.String("account_id", accountID))
		return &TwoFactorResult{Message: MessageTwoFactorConfirmed, RequestID: models.NoRequestID, Confirmed: true}, nil
	}

	fresh := models.NewRecoveryMethod(accountID, method.Kind)
	fresh.Detail = &detail
	code, stored, err := s.codes.Issue(ctx, IssueRequest{
		Identity:   target,
		RequestID:  models.NoRequestID,
		Edit:       edit,
		CreateWith: fresh,
		Variant:    string(messages.KindVerifyTwoFactor),
	})
	if err != nil {
		return nil, err
	}

	if err := s.deliver(ctx, stored, messages.KindVerifyTwoFactor, code, nil); err != nil {
		return nil, err
	}
	return &TwoFactorResult{Message: MessageTwoFactorInitialized, RequestID: models.NoRequestID}, nil
}

func (s *TwoFactorService) upsertConfirmed(ctx context.Context, target recovery.Identity, exists bool, accountID string, kind models.MethodKind, detail string) error {
	settle := func(m *models.RecoveryMethod) error {
		m.Kind = kind
		m.Detail = &detail
		m.SecurityCode = nil
		m.RequestID = models.NoRequestID
		m.UpdatedAt = s.codes.now()
		return nil
	}
	if exists {
		_, err := s.store.Update(ctx, target, settle)
		return err
	}
	method := models.NewRecoveryMethod(accountID, kind)
	if err := settle(method); err != nil {
		return err
	}
	method.CreatedAt = method.UpdatedAt
	return s.store.Create(ctx, method)
}

// SendNewCode issues a fresh code for the account's 2FA method and delivers it. A requestID other than
// -1 ties the code to that pending multisig request and describes the request in the message.
func (s *TwoFactorService) SendNewCode(ctx context.Context, accountID string, requestID int64) (*TwoFactorResult, error) {
	existing, err := recovery.TwoFactorMethod(ctx, s.store, accountID)
	if errors.Is(err, recovery.ErrNotFound) {
		return nil, apperrors.ErrNoActive2FA
	}
	if err != nil {
		return nil, err
	}

	kind := messages.KindVerifyTwoFactor
	var request *chain.PendingRequest
	if requestID != models.NoRequestID {
		request, err = s.chain.PendingRequest(ctx, accountID, requestID)
		if err != nil {
			return nil, apperrors.RequestNotFound(err)
		}
		kind = messages.KindConfirmTx
		if request.AddsFullAccessKeyTo(accountID) {
			kind = messages.KindAddFullAccessKey
		}
	}

	code, stored, err := s.codes.Issue(ctx, IssueRequest{
		Identity:  recovery.IdentityOf(existing),
		RequestID: requestID,
		Variant:   string(kind),
	})
	if errors.Is(err, apperrors.ErrMethodNotFound) || errors.Is(err, recovery.ErrNotFound) {
		return nil, apperrors.ErrNoActive2FA
	}
	if err != nil {
		return nil, err
	}

	if err := s.deliver(ctx, stored, kind, code, request); err != nil {
		return nil, err
	}
	return &TwoFactorResult{Message: MessageTwoFactorCodeSent, RequestID: requestID}, nil
}

// VerifyCode consumes the code and, for a pending request, confirms it on chain. The code stays
// consumed when the confirmation fails.
func (s *TwoFactorService) VerifyCode(ctx context.Context, accountID, code string, requestID int64) (*TwoFactorResult, error) {
	existing, err := recovery.TwoFactorMethod(ctx, s.store, accountID)
	if errors.Is(err, recovery.ErrNotFound) {
		if !crypto.IsNumericCode(code, SecurityCodeDigits) {
			return nil, apperrors.ErrMalformedCode
		}
		return nil, apperrors.ErrMethodNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.codes.Validate(ctx, ValidateRequest{
		Identity:  recovery.IdentityOf(existing),
		Code:      code,
		RequestID: requestID,
	}); err != nil {
		s.log.Info("2fa code rejected", zap.String("account_id", accountID), zap.Int64("request_id", requestID), zap.Error(err))
		return nil, err
	}

	if requestID == models.NoRequestID {
		return &TwoFactorResult{Message: MessageTwoFactorVerified, RequestID: requestID}, nil
	}

	outcome, err := s.chain.ConfirmRequest(ctx, accountID, requestID)
	if err != nil {
		s.log.Error("confirm after verified code failed",
			zap.String("account_id", accountID),
			zap.Int64("request_id", requestID),
			zap.Error(err),
		)
		return nil, apperrors.ChainConfirmFailed(err)
	}
	return &TwoFactorResult{Message: MessageTwoFactorVerified, RequestID: requestID, Outcome: outcome}, nil
}

func (s *TwoFactorService) hasMultisigContract(ctx context.Context, accountID string) (bool, error) {
	state, err := s.chain.AccountState(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("two factor service: account state: %w", err)
	}
	_, ok := s.multisig[state.CodeHash]
	return ok, nil
}

func (s *TwoFactorService) deliver(ctx context.Context, method *models.RecoveryMethod, kind messages.Kind, code string, request *chain.PendingRequest) error {
	content, err := messages.BuildMessageContent(kind, messages.Params{
		AccountID:    method.AccountID,
		SecurityCode: code,
		Destination:  method.DetailValue(),
		Request:      request,
		ForSMS:       notifications.IsSMS(method.Kind),
	})
	if err != nil {
		return err
	}
	return notifications.DeliverContent(ctx, s.dispatcher, method.Kind, method.DetailValue(), content)
}
