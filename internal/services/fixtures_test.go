package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/walletrecovery/internal/chain"
	"github.com/charlesng35/walletrecovery/internal/chain/chaintest"
	"github.com/charlesng35/walletrecovery/internal/database/testutil"
	"github.com/charlesng35/walletrecovery/internal/recovery"
)

const multisigHash = "7GqX9t2Ub3r1pZxvT1q3V7PfWkY8oEhWjW5Gd3tBvJxN"

type sentMessage struct {
	Channel string
	To      string
	Subject string
	Text    string
	HTML    string
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (d *recordingDispatcher) SendSMS(_ context.Context, to, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, sentMessage{Channel: "sms", To: to, Text: text})
	return nil
}

func (d *recordingDispatcher) SendEmail(_ context.Context, to, subject, text, html string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, sentMessage{Channel: "email", To: to, Subject: subject, Text: text, HTML: html})
	return nil
}

func (d *recordingDispatcher) last(t *testing.T) sentMessage {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.sent, "expected a dispatched message")
	return d.sent[len(d.sent)-1]
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequenceCodes hands out the given codes in order, then numbered fallbacks.
func sequenceCodes(codes ...string) func() (string, error) {
	var mu sync.Mutex
	next := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		if next <= len(codes) {
			return codes[next-1], nil
		}
		return fmt.Sprintf("%06d", next), nil
	}
}

func openGormStore(t *testing.T) recovery.Store {
	t.Helper()
	store, err := recovery.NewGormStore(testutil.MustOpenTestDB(t, testutil.WithAutoMigrate()))
	require.NoError(t, err)
	return store
}

func openRedisStore(t *testing.T) recovery.Store {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := recovery.NewRedisStore(client, "test")
	require.NoError(t, err)
	return store
}

type twoFactorHarness struct {
	store      recovery.Store
	clock      *testClock
	chain      *chaintest.Fake
	dispatcher *recordingDispatcher
	codes      *SecurityCodeService
	service    *TwoFactorService
	deriver    *chain.KeyDeriver
}

func newTwoFactorHarness(t *testing.T, store recovery.Store, codes ...string) *twoFactorHarness {
	t.Helper()

	h := &twoFactorHarness{
		store:      store,
		clock:      newTestClock(),
		chain:      chaintest.New(1000),
		dispatcher: &recordingDispatcher{},
	}

	var err error
	h.codes, err = NewSecurityCodeService(store,
		WithSecurityCodeClock(h.clock.Now),
		withCodeGenerator(sequenceCodes(codes...)),
	)
	require.NoError(t, err)

	h.deriver, err = chain.NewKeyDeriver("test-seed")
	require.NoError(t, err)

	h.service, err = NewTwoFactorService(store, h.codes, h.chain, h.dispatcher, h.deriver, []string{multisigHash})
	require.NoError(t, err)
	return h
}
