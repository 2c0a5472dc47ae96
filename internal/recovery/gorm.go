package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/walletrecovery/internal/models"
)

// GormStore persists recovery methods in the relational database.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore constructs a relational Store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("recovery: db is required")
	}
	return &GormStore{db: db, now: time.Now}, nil
}

func (s *GormStore) Create(ctx context.Context, method *models.RecoveryMethod) error {
	if err := validateMethod(method); err != nil {
		return err
	}
	stampCreate(method, s.now())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureAccount(tx, method.AccountID, method.CreatedAt); err != nil {
			return err
		}
		if err := checkConflicts(tx, method, ""); err != nil {
			return err
		}
		if err := tx.Create(method).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("recovery: create %s: %w", IdentityOf(method), err)
		}
		return nil
	})
}

func (s *GormStore) Get(ctx context.Context, id Identity) (*models.RecoveryMethod, error) {
	var method models.RecoveryMethod
	if err := findByIdentity(s.db.WithContext(ctx), id, &method); err != nil {
		return nil, err
	}
	return &method, nil
}

func (s *GormStore) ListByAccount(ctx context.Context, accountID string) ([]models.RecoveryMethod, error) {
	var methods []models.RecoveryMethod
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&methods).Error
	if err != nil {
		return nil, fmt.Errorf("recovery: list %s: %w", accountID, err)
	}
	return methods, nil
}

func (s *GormStore) Update(ctx context.Context, id Identity, mutate Mutator) (*models.RecoveryMethod, error) {
	var updated models.RecoveryMethod

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.RecoveryMethod
		if err := findByIdentity(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id, &current); err != nil {
			return err
		}

		next, err := applyMutation(current, mutate)
		if err != nil {
			return err
		}
		if next.IdentityKey != current.IdentityKey || next.IsTwoFactor() != current.IsTwoFactor() {
			if err := checkConflicts(tx, &next, current.ID); err != nil {
				return err
			}
		}

		err = tx.Model(&models.RecoveryMethod{}).
			Where("id = ?", current.ID).
			UpdateColumns(map[string]interface{}{
				"kind":          next.Kind,
				"detail":        next.Detail,
				"public_key":    next.PublicKey,
				"security_code": next.SecurityCode,
				"request_id":    next.RequestID,
				"identity_key":  next.IdentityKey,
				"updated_at":    next.UpdatedAt,
			}).Error
		if err != nil {
			if isUniqueConstraintError(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("recovery: update %s: %w", id, err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *GormStore) Delete(ctx context.Context, id Identity) error {
	result := s.db.WithContext(ctx).
		Where("account_id = ? AND identity_key = ?", id.AccountID, id.key()).
		Delete(&models.RecoveryMethod{})
	if result.Error != nil {
		return fmt.Errorf("recovery: delete %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ClearStaleCodes(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.RecoveryMethod{}).
		Where("security_code IS NOT NULL AND updated_at < ?", before.UTC()).
		UpdateColumns(map[string]interface{}{
			"security_code": nil,
			"request_id":    models.NoRequestID,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recovery: clear stale codes: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func findByIdentity(db *gorm.DB, id Identity, out *models.RecoveryMethod) error {
	err := db.Where("account_id = ? AND identity_key = ?", id.AccountID, id.key()).Take(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("recovery: get %s: %w", id, err)
	}
	return nil
}

func ensureAccount(tx *gorm.DB, accountID string, now time.Time) error {
	var account models.Account
	err := tx.Where(models.Account{AccountID: accountID}).
		Attrs(models.Account{BaseModel: models.BaseModel{CreatedAt: now, UpdatedAt: now}}).
		FirstOrCreate(&account).Error
	if err != nil {
		return fmt.Errorf("recovery: ensure account %s: %w", accountID, err)
	}
	return nil
}

func checkConflicts(tx *gorm.DB, method *models.RecoveryMethod, excludeID string) error {
	query := tx.Model(&models.RecoveryMethod{}).
		Where("account_id = ? AND identity_key = ?", method.AccountID, models.IdentityKeyFor(method.Kind, method.PublicKey))
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("recovery: check identity: %w", err)
	}
	if count > 0 {
		return ErrDuplicate
	}

	if !method.IsTwoFactor() {
		return nil
	}
	query = tx.Model(&models.RecoveryMethod{}).
		Where("account_id = ? AND kind LIKE ?", method.AccountID, models.TwoFactorPrefix+"%")
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("recovery: check 2fa: %w", err)
	}
	if count > 0 {
		return ErrDuplicate
	}
	return nil
}
