package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/walletrecovery/internal/models"
)

var (
	// ErrNotFound is returned when no method matches the identity.
	ErrNotFound = errors.New("recovery: method not found")
	// ErrDuplicate is returned when a write would break identity or single-2FA uniqueness.
	ErrDuplicate = errors.New("recovery: method already exists")
)

// Identity addresses one recovery method. Detail is deliberately not part of it.
type Identity struct {
	AccountID string
	Kind      models.MethodKind
	PublicKey *string
}

// IdentityOf returns the identity of a stored method.
func IdentityOf(method *models.RecoveryMethod) Identity {
	return Identity{AccountID: method.AccountID, Kind: method.Kind, PublicKey: method.PublicKey}
}

func (i Identity) key() string {
	return models.IdentityKeyFor(i.Kind, i.PublicKey)
}

func (i Identity) String() string {
	return i.AccountID + "/" + i.key()
}

// Mutator edits a method in place during Update. Returning an error aborts the update unchanged.
type Mutator func(method *models.RecoveryMethod) error

// Store persists recovery methods. Implementations must apply Update as one atomic
// read-modify-write for the addressed record and enforce identity uniqueness as well as
// the at-most-one 2FA method per account rule.
type Store interface {
	Create(ctx context.Context, method *models.RecoveryMethod) error
	Get(ctx context.Context, id Identity) (*models.RecoveryMethod, error)
	ListByAccount(ctx context.Context, accountID string) ([]models.RecoveryMethod, error)
	Update(ctx context.Context, id Identity, mutate Mutator) (*models.RecoveryMethod, error)
	Delete(ctx context.Context, id Identity) error
	// ClearStaleCodes drops pending codes last issued before the cutoff and reports how many were cleared.
	ClearStaleCodes(ctx context.Context, before time.Time) (int64, error)
}

// TwoFactorMethod returns the account's 2FA method, or ErrNotFound. It only relies on
// ListByAccount so it works against any backend.
func TwoFactorMethod(ctx context.Context, store Store, accountID string) (*models.RecoveryMethod, error) {
	methods, err := store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for i := range methods {
		if methods[i].IsTwoFactor() {
			method := methods[i]
			return &method, nil
		}
	}
	return nil, ErrNotFound
}

// FindByDetail returns the first method of the given kind whose detail matches, or ErrNotFound.
func FindByDetail(ctx context.Context, store Store, accountID string, kind models.MethodKind, detail string) (*models.RecoveryMethod, error) {
	methods, err := store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for i := range methods {
		if methods[i].Kind == kind && methods[i].DetailValue() == detail {
			method := methods[i]
			return &method, nil
		}
	}
	return nil, ErrNotFound
}

func validateMethod(method *models.RecoveryMethod) error {
	if method == nil {
		return errors.New("recovery: method is required")
	}
	if strings.TrimSpace(method.AccountID) == "" {
		return errors.New("recovery: account id is required")
	}
	if !method.Kind.Valid() {
		return fmt.Errorf("recovery: unknown method kind %q", method.Kind)
	}
	return nil
}

// stampCreate fills missing timestamps and normalises them to UTC.
func stampCreate(method *models.RecoveryMethod, now time.Time) {
	if method.CreatedAt.IsZero() {
		method.CreatedAt = now
	}
	if method.UpdatedAt.IsZero() {
		method.UpdatedAt = method.CreatedAt
	}
	method.CreatedAt = method.CreatedAt.UTC()
	method.UpdatedAt = method.UpdatedAt.UTC()
	method.IdentityKey = models.IdentityKeyFor(method.Kind, method.PublicKey)
}

// applyMutation runs mutate on a copy and rejects changes to immutable fields.
func applyMutation(current models.RecoveryMethod, mutate Mutator) (models.RecoveryMethod, error) {
	next := current
	if err := mutate(&next); err != nil {
		return current, err
	}
	if next.ID != current.ID || next.AccountID != current.AccountID {
		return current, errors.New("recovery: id and account id are immutable")
	}
	if !next.Kind.Valid() {
		return current, fmt.Errorf("recovery: unknown method kind %q", next.Kind)
	}
	next.UpdatedAt = next.UpdatedAt.UTC()
	next.IdentityKey = models.IdentityKeyFor(next.Kind, next.PublicKey)
	return next, nil
}
