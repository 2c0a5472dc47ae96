package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/charlesng35/walletrecovery/internal/models"
)

const maxTxRetries = 5

// document is the persisted shape of a method inside the per-account hash.
type document struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"accountId"`
	Kind         models.MethodKind `json:"kind"`
	Detail       *string           `json:"detail"`
	PublicKey    *string           `json:"publicKey"`
	SecurityCode *string           `json:"securityCode"`
	RequestID    int64             `json:"requestId"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

func toDocument(m *models.RecoveryMethod) document {
	return document{
		ID:           m.ID,
		AccountID:    m.AccountID,
		Kind:         m.Kind,
		Detail:       m.Detail,
		PublicKey:    m.PublicKey,
		SecurityCode: m.SecurityCode,
		RequestID:    m.RequestID,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func (d document) method() models.RecoveryMethod {
	m := models.RecoveryMethod{
		BaseModel:    models.BaseModel{ID: d.ID, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt},
		AccountID:    d.AccountID,
		Kind:         d.Kind,
		Detail:       d.Detail,
		PublicKey:    d.PublicKey,
		SecurityCode: d.SecurityCode,
		RequestID:    d.RequestID,
	}
	m.IdentityKey = models.IdentityKeyFor(m.Kind, m.PublicKey)
	return m
}

// RedisStore keeps one hash per account, keyed by kind|publicKey, holding JSON documents.
// It has no secondary indexes; lookups other than by identity list the account hash.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore constructs a document Store on top of go-redis.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("recovery: redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("recovery: redis key prefix is required")
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}, nil
}

func (s *RedisStore) accountKey(accountID string) string {
	return s.prefix + ":recovery:" + accountID
}

func (s *RedisStore) accountsKey() string {
	return s.prefix + ":accounts"
}

func (s *RedisStore) Create(ctx context.Context, method *models.RecoveryMethod) error {
	if err := validateMethod(method); err != nil {
		return err
	}
	if method.ID == "" {
		method.ID = uuid.NewString()
	}
	stampCreate(method, s.now())
	key := s.accountKey(method.AccountID)

	payload, err := json.Marshal(toDocument(method))
	if err != nil {
		return fmt.Errorf("recovery: encode %s: %w", IdentityOf(method), err)
	}

	return s.watch(ctx, key, func(tx *redis.Tx) error {
		existing, err := readAccount(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := conflictsIn(existing, method, ""); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, method.IdentityKey, payload)
			pipe.SAdd(ctx, s.accountsKey(), method.AccountID)
			return nil
		})
		return err
	})
}

func (s *RedisStore) Get(ctx context.Context, id Identity) (*models.RecoveryMethod, error) {
	raw, err := s.client.HGet(ctx, s.accountKey(id.AccountID), id.key()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recovery: get %s: %w", id, err)
	}
	method, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (s *RedisStore) ListByAccount(ctx context.Context, accountID string) ([]models.RecoveryMethod, error) {
	methods, err := readAccount(ctx, s.client, s.accountKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("recovery: list %s: %w", accountID, err)
	}
	return methods, nil
}

func (s *RedisStore) Update(ctx context.Context, id Identity, mutate Mutator) (*models.RecoveryMethod, error) {
	key := s.accountKey(id.AccountID)
	var updated models.RecoveryMethod

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		existing, err := readAccount(ctx, tx, key)
		if err != nil {
			return err
		}
		var current *models.RecoveryMethod
		for i := range existing {
			if existing[i].IdentityKey == id.key() {
				current = &existing[i]
				break
			}
		}
		if current == nil {
			return ErrNotFound
		}

		next, err := applyMutation(*current, mutate)
		if err != nil {
			return err
		}
		if err := conflictsIn(existing, &next, current.ID); err != nil {
			return err
		}
		payload, err := json.Marshal(toDocument(&next))
		if err != nil {
			return fmt.Errorf("recovery: encode %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next.IdentityKey != current.IdentityKey {
				pipe.HDel(ctx, key, current.IdentityKey)
			}
			pipe.HSet(ctx, key, next.IdentityKey, payload)
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *RedisStore) Delete(ctx context.Context, id Identity) error {
	removed, err := s.client.HDel(ctx, s.accountKey(id.AccountID), id.key()).Result()
	if err != nil {
		return fmt.Errorf("recovery: delete %s: %w", id, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) ClearStaleCodes(ctx context.Context, before time.Time) (int64, error) {
	var cleared int64

	iter := s.client.SScan(ctx, s.accountsKey(), 0, "", 100).Iterator()
	for iter.Next(ctx) {
		key := s.accountKey(iter.Val())
		err := s.watch(ctx, key, func(tx *redis.Tx) error {
			existing, err := readAccount(ctx, tx, key)
			if err != nil {
				return err
			}
			stale := make(map[string]interface{})
			for i := range existing {
				m := existing[i]
				if !m.HasPendingCode() || !m.UpdatedAt.Before(before) {
					continue
				}
				m.SecurityCode = nil
				m.RequestID = models.NoRequestID
				payload, err := json.Marshal(toDocument(&m))
				if err != nil {
					return err
				}
				stale[m.IdentityKey] = payload
			}
			if len(stale) == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, stale)
				return nil
			})
			if err == nil {
				cleared += int64(len(stale))
			}
			return err
		})
		if err != nil {
			return cleared, fmt.Errorf("recovery: clear stale codes for %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return cleared, fmt.Errorf("recovery: scan accounts: %w", err)
	}
	return cleared, nil
}

// watch runs fn under WATCH on key, retrying when another writer touched the hash first.
func (s *RedisStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("recovery: %s: too much contention", key)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func readAccount(ctx context.Context, client hashReader, key string) ([]models.RecoveryMethod, error) {
	fields, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	methods := make([]models.RecoveryMethod, 0, len(fields))
	for _, raw := range fields {
		method, err := decode(raw)
		if err != nil {
			return nil, err
		}
		methods = append(methods, method)
	}
	sort.Slice(methods, func(i, j int) bool {
		if methods[i].CreatedAt.Equal(methods[j].CreatedAt) {
			return methods[i].ID < methods[j].ID
		}
		return methods[i].CreatedAt.Before(methods[j].CreatedAt)
	})
	return methods, nil
}

func decode(raw string) (models.RecoveryMethod, error) {
	var doc document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return models.RecoveryMethod{}, fmt.Errorf("recovery: decode document: %w", err)
	}
	return doc.method(), nil
}

func conflictsIn(existing []models.RecoveryMethod, method *models.RecoveryMethod, excludeID string) error {
	identity := models.IdentityKeyFor(method.Kind, method.PublicKey)
	for i := range existing {
		other := &existing[i]
		if other.ID == excludeID {
			continue
		}
		if other.IdentityKey == identity {
			return ErrDuplicate
		}
		if method.IsTwoFactor() && other.IsTwoFactor() {
			return ErrDuplicate
		}
	}
	return nil
}
