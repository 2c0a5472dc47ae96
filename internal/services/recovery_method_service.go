package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/walletrecovery/internal/messages"
	"github.com/charlesng35/walletrecovery/internal/models"
	"github.com/charlesng35/walletrecovery/internal/notifications"
	"github.com/charlesng35/walletrecovery/internal/recovery"
	apperrors "github.com/charlesng35/walletrecovery/pkg/errors"
	"github.com/charlesng35/walletrecovery/pkg/logger"
)

// RecoveryMethodService manages the plain (non-2FA) recovery methods of an account.
type RecoveryMethodService struct {
	store      recovery.Store
	codes      *SecurityCodeService
	dispatcher notifications.Dispatcher
	log        *zap.Logger
}

// NewRecoveryMethodService wires the recovery method flows.
func NewRecoveryMethodService(store recovery.Store, codes *SecurityCodeService, dispatcher notifications.Dispatcher) (*RecoveryMethodService, error) {
	if store == nil {
		return nil, errors.New("recovery method service: store is required")
	}
	if codes == nil {
		return nil, errors.New("recovery method service: security code service is required")
	}
	if dispatcher == nil {
		return nil, errors.New("recovery method service: dispatcher is required")
	}
	return &RecoveryMethodService{
		store:      store,
		codes:      codes,
		dispatcher: dispatcher,
		log:        logger.WithModule("recovery_methods"),
	}, nil
}

// List returns every method registered for the account.
func (s *RecoveryMethodService) List(ctx context.Context, accountID string) ([]models.RecoveryMethod, error) {
	methods, err := s.store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if methods == nil {
		methods = []models.RecoveryMethod{}
	}
	return methods, nil
}

// Initialize registers an email or phone method awaiting confirmation and sends it a security code.
// Repeating the call replaces the pending code, and the destination while it is still unconfirmed.
// A confirmed method keeps its destination; registering another one conflicts until it is deleted.
func (s *RecoveryMethodService) Initialize(ctx context.Context, accountID string, kind models.MethodKind, detail string) (*models.RecoveryMethod, error) {
	if kind != models.MethodEmail && kind != models.MethodPhone {
		return nil, apperrors.NewBadRequest("recovery method kind must be email or phone")
	}
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return nil, apperrors.NewBadRequest("method detail is required")
	}

	fresh := models.NewRecoveryMethod(accountID, kind)
	fresh.Detail = &detail
	code, method, err := s.codes.Issue(ctx, IssueRequest{
		Identity:  recovery.Identity{AccountID: accountID, Kind: kind},
		RequestID: models.NoRequestID,
		Edit: func(m *models.RecoveryMethod) error {
			if m.Confirmed() && m.DetailValue() != detail {
				return apperrors.New(apperrors.ErrConflict.Code,
					"a confirmed "+string(kind)+" recovery method already exists; delete it first", http.StatusConflict)
			}
			m.Detail = &detail
			return nil
		},
		CreateWith: fresh,
		Variant:    string(messages.KindVerifyRecoveryMethod),
	})
	if err != nil {
		return nil, err
	}

	content, err := messages.BuildMessageContent(messages.KindVerifyRecoveryMethod, messages.Params{
		AccountID:    accountID,
		SecurityCode: code,
		Destination:  detail,
		ForSMS:       notifications.IsSMS(kind),
	})
	if err != nil {
		return nil, err
	}
	if err := notifications.DeliverContent(ctx, s.dispatcher, kind, detail, content); err != nil {
		return nil, err
	}
	return method, nil
}

// ValidateSecurityCode confirms a pending email or phone method. When publicKey is set the confirmed
// method is bound to it.
func (s *RecoveryMethodService) ValidateSecurityCode(ctx context.Context, accountID string, kind models.MethodKind, detail, code, publicKey string) (*models.RecoveryMethod, error) {
	if kind != models.MethodEmail && kind != models.MethodPhone {
		return nil, apperrors.NewBadRequest("recovery method kind must be email or phone")
	}

	req := ValidateRequest{
		Identity:  recovery.Identity{AccountID: accountID, Kind: kind},
		Code:      code,
		RequestID: models.NoRequestID,
		Detail:    models.StringPtr(detail),
	}
	if pk := models.StringPtr(publicKey); pk != nil {
		req.OnSuccess = func(m *models.RecoveryMethod) error {
			m.PublicKey = pk
			return nil
		}
	}

	method, err := s.codes.Validate(ctx, req)
	if errors.Is(err, recovery.ErrDuplicate) {
		return nil, apperrors.ErrConflict.WithInternal(err)
	}
	if err != nil {
		return nil, err
	}
	return method, nil
}

// AddSeedPhrase records that the account has a seed phrase recovery key. Repeated calls are no-ops.
func (s *RecoveryMethodService) AddSeedPhrase(ctx context.Context, accountID, publicKey string) (*models.RecoveryMethod, error) {
	return s.addKeyMethod(ctx, accountID, models.MethodPhrase, publicKey)
}

// AddLedgerKey records that the account has a ledger recovery key. Repeated calls are no-ops.
func (s *RecoveryMethodService) AddLedgerKey(ctx context.Context, accountID, publicKey string) (*models.RecoveryMethod, error) {
	return s.addKeyMethod(ctx, accountID, models.MethodLedger, publicKey)
}

func (s *RecoveryMethodService) addKeyMethod(ctx context.Context, accountID string, kind models.MethodKind, publicKey string) (*models.RecoveryMethod, error) {
	pk := models.StringPtr(publicKey)
	if pk == nil {
		return nil, apperrors.NewBadRequest("publicKey is required")
	}

	method := models.NewRecoveryMethod(accountID, kind)
	method.PublicKey = pk
	method.Touch(s.codes.now())
	err := s.store.Create(ctx, method)
	if errors.Is(err, recovery.ErrDuplicate) {
		return s.store.Get(ctx, recovery.IdentityOf(method))
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("recovery key added",
		zap.String("account_id", accountID),
		zap.String("kind", string(kind)),
	)
	return method, nil
}

// Delete removes a plain recovery method. 2FA methods cannot be removed through this path.
func (s *RecoveryMethodService) Delete(ctx context.Context, accountID string, kind models.MethodKind, publicKey string) error {
	switch kind {
	case models.MethodEmail, models.MethodPhone, models.MethodPhrase, models.MethodLedger:
	default:
		return apperrors.NewBadRequest("recovery method kind is not deletable")
	}

	err := s.store.Delete(ctx, recovery.Identity{AccountID: accountID, Kind: kind, PublicKey: models.StringPtr(publicKey)})
	if errors.Is(err, recovery.ErrNotFound) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return err
	}

	s.log.Info("recovery method deleted",
		zap.String("account_id", accountID),
		zap.String("kind", string(kind)),
	)
	return nil
}
