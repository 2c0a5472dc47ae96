package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/walletrecovery/internal/database/testutil"
	"github.com/charlesng35/walletrecovery/internal/models"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{name: "gorm", open: func(t *testing.T) Store {
			db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
			store, err := NewGormStore(db)
			require.NoError(t, err)
			return store
		}},
		{name: "redis", open: func(t *testing.T) Store {
			server := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: server.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			store, err := NewRedisStore(client, "test")
			require.NoError(t, err)
			return store
		}},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	for _, factory := range storeFactories() {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			fn(t, factory.open(t))
		})
	}
}

func strPtr(v string) *string { return &v }

func emailMethod(accountID, detail string) *models.RecoveryMethod {
	method := models.NewRecoveryMethod(accountID, models.MethodEmail)
	method.Detail = strPtr(detail)
	return method
}

func TestStoreCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		method := emailMethod("alice.near", "a@example.com")
		method.SecurityCode = strPtr("042917")
		require.NoError(t, store.Create(ctx, method))
		require.NotEmpty(t, method.ID)
		require.False(t, method.CreatedAt.IsZero())

		got, err := store.Get(ctx, IdentityOf(method))
		require.NoError(t, err)
		require.Equal(t, method.ID, got.ID)
		require.Equal(t, "a@example.com", got.DetailValue())
		require.Equal(t, "042917", *got.SecurityCode)
		require.Equal(t, models.NoRequestID, got.RequestID)
		require.Nil(t, got.PublicKey)

		_, err = store.Get(ctx, Identity{AccountID: "bob.near", Kind: models.MethodEmail})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreIdentityIncludesPublicKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		first := models.NewRecoveryMethod("alice.near", models.MethodPhrase)
		first.PublicKey = strPtr("ed25519:one")
		require.NoError(t, store.Create(ctx, first))

		second := models.NewRecoveryMethod("alice.near", models.MethodPhrase)
		second.PublicKey = strPtr("ed25519:two")
		require.NoError(t, store.Create(ctx, second))

		dup := models.NewRecoveryMethod("alice.near", models.MethodPhrase)
		dup.PublicKey = strPtr("ed25519:one")
		require.ErrorIs(t, store.Create(ctx, dup), ErrDuplicate)

		methods, err := store.ListByAccount(ctx, "alice.near")
		require.NoError(t, err)
		require.Len(t, methods, 2)
	})
}

func TestStoreRejectsSecondTwoFactorMethod(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		email := models.NewRecoveryMethod("alice.near", models.MethodTwoFactorMail)
		email.Detail = strPtr("a@example.com")
		require.NoError(t, store.Create(ctx, email))

		phone := models.NewRecoveryMethod("alice.near", models.MethodTwoFactorSMS)
		phone.Detail = strPtr("+15551234567")
		require.ErrorIs(t, store.Create(ctx, phone), ErrDuplicate)

		other := models.NewRecoveryMethod("bob.near", models.MethodTwoFactorSMS)
		other.Detail = strPtr("+15551234567")
		require.NoError(t, store.Create(ctx, other))

		found, err := TwoFactorMethod(ctx, store, "alice.near")
		require.NoError(t, err)
		require.Equal(t, models.MethodTwoFactorMail, found.Kind)

		_, err = TwoFactorMethod(ctx, store, "carol.near")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreUpdateAppliesMutation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		method := models.NewRecoveryMethod("alice.near", models.MethodTwoFactorMail)
		method.Detail = strPtr("a@example.com")
		require.NoError(t, store.Create(ctx, method))

		issuedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		updated, err := store.Update(ctx, IdentityOf(method), func(m *models.RecoveryMethod) error {
			m.SecurityCode = strPtr("123456")
			m.RequestID = 5
			m.UpdatedAt = issuedAt
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, int64(5), updated.RequestID)

		got, err := store.Get(ctx, IdentityOf(method))
		require.NoError(t, err)
		require.Equal(t, "123456", *got.SecurityCode)
		require.Equal(t, int64(5), got.RequestID)
		require.True(t, issuedAt.Equal(got.UpdatedAt), "updatedAt %s", got.UpdatedAt)
	})
}

func TestStoreUpdateMutatorErrorLeavesRecord(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		method := emailMethod("alice.near", "a@example.com")
		method.SecurityCode = strPtr("111111")
		require.NoError(t, store.Create(ctx, method))

		boom := errors.New("boom")
		_, err := store.Update(ctx, IdentityOf(method), func(m *models.RecoveryMethod) error {
			m.SecurityCode = nil
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := store.Get(ctx, IdentityOf(method))
		require.NoError(t, err)
		require.Equal(t, "111111", *got.SecurityCode)

		_, err = store.Update(ctx, Identity{AccountID: "alice.near", Kind: models.MethodPhone}, func(*models.RecoveryMethod) error { return nil })
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreUpdateCanSwapTwoFactorKind(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		method := models.NewRecoveryMethod("alice.near", models.MethodTwoFactorSMS)
		method.Detail = strPtr("+15551234567")
		require.NoError(t, store.Create(ctx, method))

		_, err := store.Update(ctx, IdentityOf(method), func(m *models.RecoveryMethod) error {
			m.Kind = models.MethodTwoFactorMail
			m.Detail = strPtr("a@example.com")
			return nil
		})
		require.NoError(t, err)

		_, err = store.Get(ctx, IdentityOf(method))
		require.ErrorIs(t, err, ErrNotFound)

		got, err := store.Get(ctx, Identity{AccountID: "alice.near", Kind: models.MethodTwoFactorMail})
		require.NoError(t, err)
		require.Equal(t, method.ID, got.ID)

		methods, err := store.ListByAccount(ctx, "alice.near")
		require.NoError(t, err)
		require.Len(t, methods, 1)
	})
}

func TestStoreDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		method := emailMethod("alice.near", "a@example.com")
		require.NoError(t, store.Create(ctx, method))

		require.NoError(t, store.Delete(ctx, IdentityOf(method)))
		require.ErrorIs(t, store.Delete(ctx, IdentityOf(method)), ErrNotFound)

		methods, err := store.ListByAccount(ctx, "alice.near")
		require.NoError(t, err)
		require.Empty(t, methods)
	})
}

func TestStoreClearStaleCodes(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

		stale := emailMethod("alice.near", "a@example.com")
		stale.SecurityCode = strPtr("111111")
		stale.RequestID = 3
		stale.CreatedAt = now.Add(-48 * time.Hour)
		stale.UpdatedAt = now.Add(-25 * time.Hour)
		require.NoError(t, store.Create(ctx, stale))

		fresh := emailMethod("bob.near", "b@example.com")
		fresh.SecurityCode = strPtr("222222")
		fresh.CreatedAt = now.Add(-time.Hour)
		fresh.UpdatedAt = now.Add(-time.Hour)
		require.NoError(t, store.Create(ctx, fresh))

		cleared, err := store.ClearStaleCodes(ctx, now.Add(-24*time.Hour))
		require.NoError(t, err)
		require.Equal(t, int64(1), cleared)

		got, err := store.Get(ctx, IdentityOf(stale))
		require.NoError(t, err)
		require.Nil(t, got.SecurityCode)
		require.Equal(t, models.NoRequestID, got.RequestID)

		got, err = store.Get(ctx, IdentityOf(fresh))
		require.NoError(t, err)
		require.Equal(t, "222222", *got.SecurityCode)
	})
}

func TestFindByDetail(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, emailMethod("alice.near", "a@example.com")))

		found, err := FindByDetail(ctx, store, "alice.near", models.MethodEmail, "a@example.com")
		require.NoError(t, err)
		require.Equal(t, models.MethodEmail, found.Kind)

		_, err = FindByDetail(ctx, store, "alice.near", models.MethodEmail, "z@example.com")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRedisStoreDocumentShape(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client, "wr")
	require.NoError(t, err)

	method := emailMethod("alice.near", "a@example.com")
	require.NoError(t, store.Create(context.Background(), method))

	raw := server.HGet("wr:recovery:alice.near", "email|")
	for _, field := range []string{`"accountId":"alice.near"`, `"kind":"email"`, `"detail":"a@example.com"`, `"publicKey":null`, `"securityCode":null`, `"requestId":-1`, `"createdAt"`, `"updatedAt"`} {
		require.Contains(t, raw, field)
	}
	members, err := server.SMembers("wr:accounts")
	require.NoError(t, err)
	require.Equal(t, []string{"alice.near"}, members)
}
