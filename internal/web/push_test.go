package web

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePushSender struct {
	mu       sync.Mutex
	payloads [][]byte
	targets  []string
	status   map[string]int // endpoint -> status to fail with
}

func (f *fakePushSender) send(payload []byte, sub Subscription) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	f.targets = append(f.targets, sub.Endpoint)
	if code, ok := f.status[sub.Endpoint]; ok {
		return code, fmt.Errorf("push gateway status %d", code)
	}
	return http.StatusCreated, nil
}

func testSubscription(endpoint string) Subscription {
	return Subscription{
		Endpoint: endpoint,
		Keys: SubscriptionKeys{
			P256DH: "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM",
			Auth:   "tBHItJI5svbpez7KI4CCXg",
		},
	}
}

func TestNewPushServiceGeneratesAndReloadsKeypair(t *testing.T) {
	dir := t.TempDir()

	p1, err := NewPushService(dir)
	require.NoError(t, err)
	require.NotEmpty(t, p1.PublicKey())

	data, err := os.ReadFile(filepath.Join(dir, vapidKeysFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), p1.PublicKey())

	// Keypair must be stable across restarts.
	p2, err := NewPushService(dir)
	require.NoError(t, err)
	assert.Equal(t, p1.PublicKey(), p2.PublicKey())
}

func TestPushServiceRejectsCorruptKeysFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, vapidKeysFileName), []byte("not json"), 0o600))

	_, err := NewPushService(dir)
	require.Error(t, err)
}

func TestUpsertValidatesAndDeduplicatesByEndpoint(t *testing.T) {
	p, err := NewPushService(t.TempDir())
	require.NoError(t, err)

	require.Error(t, p.Upsert(Subscription{}))
	require.Error(t, p.Upsert(Subscription{Endpoint: "https://push.example/a"}))

	require.NoError(t, p.Upsert(testSubscription("https://push.example/a")))
	require.NoError(t, p.Upsert(testSubscription("https://push.example/b")))
	assert.Equal(t, 2, p.SubscriptionCount())

	// Same endpoint replaces rather than duplicates.
	replacement := testSubscription("https://push.example/a")
	replacement.Keys.Auth = "rotated-auth-secret"
	require.NoError(t, p.Upsert(replacement))
	assert.Equal(t, 2, p.SubscriptionCount())
}

func TestSubscriptionsPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	p1, err := NewPushService(dir)
	require.NoError(t, err)
	require.NoError(t, p1.Upsert(testSubscription("https://push.example/a")))

	p2, err := NewPushService(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, p2.SubscriptionCount())

	require.NoError(t, p2.Remove("https://push.example/a"))

	p3, err := NewPushService(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, p3.SubscriptionCount())
}

func TestNotifyBroadcastsToAllSubscribers(t *testing.T) {
	p, err := NewPushService(t.TempDir())
	require.NoError(t, err)
	sender := &fakePushSender{}
	p.sender = sender

	require.NoError(t, p.Upsert(testSubscription("https://push.example/a")))
	require.NoError(t, p.Upsert(testSubscription("https://push.example/b")))

	require.NoError(t, p.Notify("PR #42: unit-tests fail", "workdeck: unit-tests went fail (was pending)"))

	require.Len(t, sender.targets, 2)
	assert.Contains(t, string(sender.payloads[0]), "PR #42: unit-tests fail")
	assert.Contains(t, string(sender.payloads[0]), "went fail")
}

func TestNotifyWithNoSubscribersIsNoOp(t *testing.T) {
	p, err := NewPushService(t.TempDir())
	require.NoError(t, err)
	sender := &fakePushSender{}
	p.sender = sender

	require.NoError(t, p.Notify("title", "body"))
	assert.Empty(t, sender.targets)
}

func TestNotifyDropsGoneSubscriptions(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPushService(dir)
	require.NoError(t, err)
	sender := &fakePushSender{status: map[string]int{
		"https://push.example/gone":    http.StatusGone,
		"https://push.example/missing": http.StatusNotFound,
	}}
	p.sender = sender

	require.NoError(t, p.Upsert(testSubscription("https://push.example/gone")))
	require.NoError(t, p.Upsert(testSubscription("https://push.example/missing")))
	require.NoError(t, p.Upsert(testSubscription("https://push.example/alive")))

	// Gone endpoints are pruned, not reported as failures.
	require.NoError(t, p.Notify("title", "body"))
	assert.Equal(t, 1, p.SubscriptionCount())

	// The pruning is persisted.
	p2, err := NewPushService(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, p2.SubscriptionCount())
}

func TestNotifyReportsGatewayErrors(t *testing.T) {
	p, err := NewPushService(t.TempDir())
	require.NoError(t, err)
	sender := &fakePushSender{status: map[string]int{
		"https://push.example/flaky": http.StatusBadGateway,
	}}
	p.sender = sender

	require.NoError(t, p.Upsert(testSubscription("https://push.example/flaky")))

	require.Error(t, p.Notify("title", "body"))
	// Transient failures keep the subscription.
	assert.Equal(t, 1, p.SubscriptionCount())
}
