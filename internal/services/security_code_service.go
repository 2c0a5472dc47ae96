package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/walletrecovery/internal/models"
	"github.com/charlesng35/walletrecovery/internal/recovery"
	"github.com/charlesng35/walletrecovery/pkg/crypto"
	apperrors "github.com/charlesng35/walletrecovery/pkg/errors"
	"github.com/charlesng35/walletrecovery/pkg/logger"
	"github.com/charlesng35/walletrecovery/pkg/metrics"
)

const (
	// SecurityCodeDigits is the length of every issued code.
	SecurityCodeDigits = 6
	// DefaultSecurityCodeExpiry is how long a code stays valid after issuance.
	DefaultSecurityCodeExpiry = 30 * time.Minute
)

// SecurityCodeOption customises the SecurityCodeService.
type SecurityCodeOption func(*SecurityCodeService)

// WithSecurityCodeExpiry overrides the validity window.
func WithSecurityCodeExpiry(d time.Duration) SecurityCodeOption {
	return func(s *SecurityCodeService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithSecurityCodeClock injects a custom time source.
func WithSecurityCodeClock(clock func() time.Time) SecurityCodeOption {
	return func(s *SecurityCodeService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// withCodeGenerator replaces the random source in tests.
func withCodeGenerator(gen func() (string, error)) SecurityCodeOption {
	return func(s *SecurityCodeService) {
		if gen != nil {
			s.generate = gen
		}
	}
}

// SecurityCodeService issues and validates the one-time codes stored on recovery methods.
type SecurityCodeService struct {
	store    recovery.Store
	expiry   time.Duration
	now      func() time.Time
	generate func() (string, error)
	log      *zap.Logger
}

// NewSecurityCodeService constructs a code service on top of the recovery store.
func NewSecurityCodeService(store recovery.Store, opts ...SecurityCodeOption) (*SecurityCodeService, error) {
	if store == nil {
		return nil, errors.New("security code service: store is required")
	}

	service := &SecurityCodeService{
		store:  store,
		expiry: DefaultSecurityCodeExpiry,
		now:    time.Now,
		generate: func() (string, error) {
			return crypto.GenerateNumericCode(SecurityCodeDigits)
		},
		log: logger.WithModule("security_codes"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Expiry reports the validity window.
func (s *SecurityCodeService) Expiry() time.Duration {
	return s.expiry
}

// IssueRequest describes where to store a new code.
type IssueRequest struct {
	Identity  recovery.Identity
	RequestID int64
	// Edit runs before the code is written, inside the same atomic update.
	Edit recovery.Mutator
	// CreateWith is persisted with the code when no method matches Identity.
	CreateWith *models.RecoveryMethod
	// Variant labels the issuance metric.
	Variant string
}

// Issue generates a fresh code and writes it to the method, replacing any unconsumed code.
func (s *SecurityCodeService) Issue(ctx context.Context, req IssueRequest) (string, *models.RecoveryMethod, error) {
	code, err := s.generate()
	if err != nil {
		return "", nil, fmt.Errorf("security code service: generate code: %w", err)
	}
	now := s.now()

	apply := func(m *models.RecoveryMethod) error {
		if req.Edit != nil {
			if err := req.Edit(m); err != nil {
				return err
			}
		}
		m.SecurityCode = &code
		m.RequestID = req.RequestID
		m.UpdatedAt = now
		return nil
	}

	method, err := s.store.Update(ctx, req.Identity, apply)
	if errors.Is(err, recovery.ErrNotFound) && req.CreateWith != nil {
		created := *req.CreateWith
		if err = apply(&created); err == nil {
			created.CreatedAt = now
			err = s.store.Create(ctx, &created)
			method = &created
		}
		if errors.Is(err, recovery.ErrDuplicate) {
			// lost a race with a concurrent create; the later write wins
			method, err = s.store.Update(ctx, recovery.IdentityOf(&created), apply)
		}
	}
	if err != nil {
		return "", nil, err
	}

	variant := req.Variant
	if variant == "" {
		variant = "code"
	}
	metrics.SecurityCodesIssued.WithLabelValues(string(method.Kind), variant).Inc()
	s.log.Info("security code issued",
		zap.String("account_id", method.AccountID),
		zap.String("kind", string(method.Kind)),
		zap.Int64("request_id", method.RequestID),
		zap.String("variant", variant),
	)
	return code, method, nil
}

// ValidateRequest identifies the code being checked.
type ValidateRequest struct {
	Identity  recovery.Identity
	Code      string
	RequestID int64
	// Detail, when set, must match the stored detail.
	Detail *string
	// OnSuccess runs in the consuming update after all checks pass.
	OnSuccess recovery.Mutator
}

// Validate checks the supplied code and consumes it on success. Checks run in order:
// format, pending code present, code match, request id match, expiry.
func (s *SecurityCodeService) Validate(ctx context.Context, req ValidateRequest) (*models.RecoveryMethod, error) {
	method, err := s.validate(ctx, req)
	result := "ok"
	if err != nil {
		result = "error"
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			result = appErr.Code
		}
	}
	metrics.SecurityCodeValidations.WithLabelValues(result).Inc()
	return method, err
}

func (s *SecurityCodeService) validate(ctx context.Context, req ValidateRequest) (*models.RecoveryMethod, error) {
	if !crypto.IsNumericCode(req.Code, SecurityCodeDigits) {
		return nil, apperrors.ErrMalformedCode
	}
	now := s.now()

	method, err := s.store.Update(ctx, req.Identity, func(m *models.RecoveryMethod) error {
		if !m.HasPendingCode() {
			return apperrors.ErrMethodNotFound
		}
		if req.Detail != nil && *req.Detail != m.DetailValue() {
			return apperrors.ErrMethodNotFound
		}
		if !crypto.EqualCodes(req.Code, *m.SecurityCode) {
			return apperrors.ErrCodeMismatch
		}
		if m.RequestID != req.RequestID {
			return apperrors.ErrRequestIDMismatch
		}
		if now.Sub(m.UpdatedAt) > s.expiry {
			return apperrors.ErrCodeExpired
		}

		m.SecurityCode = nil
		m.RequestID = models.NoRequestID
		m.UpdatedAt = now
		if req.OnSuccess != nil {
			return req.OnSuccess(m)
		}
		return nil
	})
	if errors.Is(err, recovery.ErrNotFound) {
		return nil, apperrors.ErrMethodNotFound
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("security code verified",
		zap.String("account_id", method.AccountID),
		zap.String("kind", string(method.Kind)),
		zap.Int64("request_id", req.RequestID),
	)
	return method, nil
}

// ClearStale drops codes issued before now minus olderThan.
func (s *SecurityCodeService) ClearStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan < s.expiry {
		olderThan = s.expiry
	}
	return s.store.ClearStaleCodes(ctx, s.now().Add(-olderThan))
}
