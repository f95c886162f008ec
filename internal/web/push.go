package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/workdeck/workdeck/internal/config"
)

const (
	vapidKeysFileName     = "vapid_keys.json"
	subscriptionsFileName = "push_subscriptions.json"
	pushTTLSeconds        = 3600
	defaultPushSubject    = "mailto:workdeck@localhost"
)

// Subscription is a browser push subscription as delivered by the
// PushManager API.
type Subscription struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
}

// SubscriptionKeys carries the client's encryption keys.
type SubscriptionKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s Subscription) normalize() Subscription {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Keys.P256DH = strings.TrimSpace(s.Keys.P256DH)
	s.Keys.Auth = strings.TrimSpace(s.Keys.Auth)
	return s
}

func (s Subscription) validate() error {
	sub := s.normalize()
	if sub.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if sub.Keys.P256DH == "" {
		return fmt.Errorf("keys.p256dh is required")
	}
	if sub.Keys.Auth == "" {
		return fmt.Errorf("keys.auth is required")
	}
	return nil
}

type vapidKeysFile struct {
	PublicKey  string    `json:"publicKey"`
	PrivateKey string    `json:"privateKey"`
	CreatedAt  time.Time `json:"createdAt"`
}

type subscriptionsFile struct {
	UpdatedAt     time.Time      `json:"updatedAt"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// pushSender abstracts the web push gateway call for tests.
type pushSender interface {
	send(payload []byte, sub Subscription) (int, error)
}

type vapidSender struct {
	subject    string
	publicKey  string
	privateKey string
}

func (s *vapidSender) send(payload []byte, sub Subscription) (int, error) {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256DH,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             pushTTLSeconds,
	})
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		return status, err
	}
	if status >= 400 {
		return status, fmt.Errorf("push gateway status %d", status)
	}
	return status, nil
}

// pushMessage is the JSON payload the service worker receives.
type pushMessage struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Tag       string `json:"tag,omitempty"`
	Timestamp string `json:"timestamp"`
}

// PushService persists a VAPID keypair and browser subscriptions under
// the web state dir and broadcasts notifications to every subscriber.
// It satisfies the notify.Sender interface.
type PushService struct {
	dir       string
	publicKey string
	sender    pushSender

	mu   sync.Mutex
	subs []Subscription
}

// NewPushService loads (or generates and persists) the VAPID keypair
// under dir and loads any existing subscriptions.
func NewPushService(dir string) (*PushService, error) {
	pub, priv, err := ensureVAPIDKeys(dir)
	if err != nil {
		return nil, err
	}
	p := &PushService{
		dir:       dir,
		publicKey: pub,
		sender:    &vapidSender{subject: defaultPushSubject, publicKey: pub, privateKey: priv},
	}
	p.loadSubscriptions()
	return p, nil
}

// DefaultDir is where the keypair and subscriptions live.
func DefaultDir() string {
	return filepath.Join(config.Home(), "web")
}

// PublicKey returns the VAPID public key browsers subscribe with.
func (p *PushService) PublicKey() string { return p.publicKey }

// Upsert validates and stores a subscription, replacing any existing
// one with the same endpoint.
func (p *PushService) Upsert(sub Subscription) error {
	sub = sub.normalize()
	if err := sub.validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	replaced := false
	for i := range p.subs {
		if p.subs[i].Endpoint == sub.Endpoint {
			p.subs[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		p.subs = append(p.subs, sub)
	}
	return p.saveLocked()
}

// Remove drops the subscription with the given endpoint.
func (p *PushService) Remove(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(endpoint)
}

// SubscriptionCount returns how many browsers are subscribed.
func (p *PushService) SubscriptionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Notify broadcasts one notification to every subscriber. Endpoints the
// gateway reports gone are dropped from the store.
func (p *PushService) Notify(title, body string) error {
	p.mu.Lock()
	subs := append([]Subscription(nil), p.subs...)
	p.mu.Unlock()
	if len(subs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	payload, err := json.Marshal(pushMessage{
		Title:     title,
		Body:      body,
		Tag:       fmt.Sprintf("workdeck-%d", now.UnixNano()),
		Timestamp: now.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, sub := range subs {
		status, err := p.sender.send(payload, sub)
		if err == nil {
			continue
		}
		if status == http.StatusGone || status == http.StatusNotFound {
			log.Info("push_subscription_gone", slog.String("endpoint", endpointForLog(sub.Endpoint)))
			p.mu.Lock()
			_ = p.removeLocked(sub.Endpoint)
			p.mu.Unlock()
			continue
		}
		log.Warn("push_send_failed",
			slog.String("endpoint", endpointForLog(sub.Endpoint)),
			slog.Int("http_status", status),
			slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *PushService) removeLocked(endpoint string) error {
	kept := p.subs[:0]
	for _, sub := range p.subs {
		if sub.Endpoint != endpoint {
			kept = append(kept, sub)
		}
	}
	p.subs = kept
	return p.saveLocked()
}

func (p *PushService) loadSubscriptions() {
	data, err := os.ReadFile(filepath.Join(p.dir, subscriptionsFileName))
	if err != nil {
		return
	}
	var f subscriptionsFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn("push_subscriptions_parse_failed", slog.String("error", err.Error()))
		return
	}
	p.subs = f.Subscriptions
}

func (p *PushService) saveLocked() error {
	f := subscriptionsFile{
		UpdatedAt:     time.Now().UTC(),
		Subscriptions: p.subs,
	}
	if f.Subscriptions == nil {
		f.Subscriptions = []Subscription{}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return config.AtomicWrite(filepath.Join(p.dir, subscriptionsFileName), append(data, '\n'))
}

// ensureVAPIDKeys loads the persisted keypair, generating one on first
// run. The keypair must be stable: subscriptions are bound to it.
func ensureVAPIDKeys(dir string) (publicKey, privateKey string, err error) {
	path := filepath.Join(dir, vapidKeysFileName)

	if data, readErr := os.ReadFile(path); readErr == nil {
		var f vapidKeysFile
		if err := json.Unmarshal(data, &f); err != nil {
			return "", "", fmt.Errorf("parse vapid keys file: %w", err)
		}
		f.PublicKey = strings.TrimSpace(f.PublicKey)
		f.PrivateKey = strings.TrimSpace(f.PrivateKey)
		if f.PublicKey == "" || f.PrivateKey == "" {
			return "", "", fmt.Errorf("vapid keys file is missing required keys")
		}
		return f.PublicKey, f.PrivateKey, nil
	} else if !os.IsNotExist(readErr) {
		return "", "", fmt.Errorf("read vapid keys file: %w", readErr)
	}

	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate vapid keypair: %w", err)
	}

	f := vapidKeysFile{
		PublicKey:  strings.TrimSpace(publicKey),
		PrivateKey: strings.TrimSpace(privateKey),
		CreatedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", "", err
	}
	if err := config.AtomicWrite(path, append(data, '\n')); err != nil {
		return "", "", err
	}
	log.Info("vapid_keypair_generated", slog.String("path", path))
	return f.PublicKey, f.PrivateKey, nil
}

func endpointForLog(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if len(endpoint) <= 48 {
		return endpoint
	}
	return endpoint[:48] + "..."
}
