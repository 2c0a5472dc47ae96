package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// MethodKind enumerates the supported recovery method kinds.
type MethodKind string

const (
	MethodEmail         MethodKind = "email"
	MethodPhone         MethodKind = "phone"
	MethodPhrase        MethodKind = "phrase"
	MethodLedger        MethodKind = "ledger"
	MethodTwoFactorMail MethodKind = "2fa-email"
	MethodTwoFactorSMS  MethodKind = "2fa-phone"

	// TwoFactorPrefix marks kinds that gate multisig confirmations.
	TwoFactorPrefix = "2fa-"

	// NoRequestID means the method is not tied to a pending on-chain request.
	NoRequestID int64 = -1
)

// Valid reports whether the kind is one of the known recovery method kinds.
func (k MethodKind) Valid() bool {
	switch k {
	case MethodEmail, MethodPhone, MethodPhrase, MethodLedger, MethodTwoFactorMail, MethodTwoFactorSMS:
		return true
	default:
		return false
	}
}

// IsTwoFactor reports whether the kind carries the 2FA prefix.
func (k MethodKind) IsTwoFactor() bool {
	return strings.HasPrefix(string(k), TwoFactorPrefix)
}

// Channel returns the delivery channel behind the kind ("email" or "phone"), or "" for key-based kinds.
func (k MethodKind) Channel() MethodKind {
	switch k {
	case MethodEmail, MethodTwoFactorMail:
		return MethodEmail
	case MethodPhone, MethodTwoFactorSMS:
		return MethodPhone
	default:
		return ""
	}
}

// RecoveryMethod is a way for an account owner to regain or confirm control of an account.
// The persisted column set is relied on by migration scripts and admin tooling.
type RecoveryMethod struct {
	BaseModel

	AccountID    string     `gorm:"size:64;not null;index;uniqueIndex:idx_recovery_identity,priority:1" json:"accountId"`
	Kind         MethodKind `gorm:"size:16;not null;index" json:"kind"`
	Detail       *string    `gorm:"size:255" json:"detail,omitempty"`
	PublicKey    *string    `gorm:"size:128" json:"publicKey,omitempty"`
	SecurityCode *string    `gorm:"size:6" json:"-"`
	RequestID    int64      `gorm:"not null" json:"requestId"`

	// IdentityKey folds kind and the nullable public key into one non-null column so the
	// (accountId, kind, publicKey) identity can be enforced by a unique index.
	IdentityKey string `gorm:"size:160;not null;default:'';uniqueIndex:idx_recovery_identity,priority:2" json:"-"`
}

// BeforeSave keeps IdentityKey in sync with Kind and PublicKey.
func (m *RecoveryMethod) BeforeSave(tx *gorm.DB) error {
	m.IdentityKey = IdentityKeyFor(m.Kind, m.PublicKey)
	return nil
}

// IdentityKeyFor builds the identity column value for a kind and optional public key.
func IdentityKeyFor(kind MethodKind, publicKey *string) string {
	key := ""
	if publicKey != nil {
		key = *publicKey
	}
	return string(kind) + "|" + key
}

// IsTwoFactor reports whether this method gates multisig confirmations.
func (m *RecoveryMethod) IsTwoFactor() bool {
	return m != nil && m.Kind.IsTwoFactor()
}

// HasPendingCode reports whether a security code is waiting to be verified.
func (m *RecoveryMethod) HasPendingCode() bool {
	return m != nil && m.SecurityCode != nil && *m.SecurityCode != ""
}

// DetailValue returns the detail or an empty string.
func (m *RecoveryMethod) DetailValue() string {
	if m == nil || m.Detail == nil {
		return ""
	}
	return *m.Detail
}

// Confirmed reports whether the method has no code awaiting verification.
func (m *RecoveryMethod) Confirmed() bool {
	return m != nil && !m.HasPendingCode()
}

// Touch refreshes UpdatedAt.
func (m *RecoveryMethod) Touch(now time.Time) {
	m.UpdatedAt = now
}

// StringPtr returns nil for blank strings and a pointer to the trimmed value otherwise.
func StringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// NewRecoveryMethod returns a method with no pending request.
func NewRecoveryMethod(accountID string, kind MethodKind) *RecoveryMethod {
	return &RecoveryMethod{AccountID: accountID, Kind: kind, RequestID: NoRequestID}
}
