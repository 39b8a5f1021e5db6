package charityauth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/charityauth/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "Str0ng!Pass"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// captureTransport records every SMS so tests can read the codes.
type captureTransport struct {
	mu       sync.Mutex
	messages map[string][]string
	fail     error
}

func newCaptureTransport() *captureTransport {
	return &captureTransport{messages: make(map[string][]string)}
}

func (c *captureTransport) Send(_ context.Context, destination, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.messages[destination] = append(c.messages[destination], message)
	return nil
}

func (c *captureTransport) count(destination string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages[destination])
}

// lastCode returns the code in the newest message to destination whose text
// mentions purpose.
func (c *captureTransport) lastCode(t *testing.T, destination, purpose string) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.messages[destination]
	for i := len(msgs) - 1; i >= 0; i-- {
		if !strings.Contains(msgs[i], " "+purpose+" ") {
			continue
		}
		fields := strings.Fields(msgs[i])
		return fields[len(fields)-1]
	}
	t.Fatalf("no %s code sent to %s", purpose, destination)
	return ""
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []Notification
	fail error
}

func (n *captureNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return n.fail
}

func (n *captureNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationKind, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

func (n *captureNotifier) has(kind NotificationKind) bool {
	for _, k := range n.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type fakeCaptcha struct {
	ok    bool
	calls int
}

func (f *fakeCaptcha) Verify(context.Context, string, string) (bool, error) {
	f.calls++
	return f.ok, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Argon2 = password.Argon2Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Password.BcryptCost = 4
	cfg.Fraud.Enabled = false
	cfg.Registration.EnableIPThrottle = false
	cfg.Metrics.Enabled = true
	return cfg
}

type testEnv struct {
	engine    *Engine
	store     *MemoryAccountStore
	transport *captureTransport
	notifier  *captureNotifier
	clock     *testClock
	redis     *miniredis.Miniredis
	delays    int
	mu        sync.Mutex
}

func (env *testEnv) delayCount() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.delays
}

func newTestEnv(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		store:     NewMemoryAccountStore(),
		transport: newCaptureTransport(),
		notifier:  &captureNotifier{},
		clock:     newTestClock(),
		redis:     mr,
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(env.store).
		WithOTPTransport(env.transport).
		WithNotifier(env.notifier).
		WithClock(env.clock.Now).
		WithSleeper(func(context.Context, time.Duration) error {
			env.mu.Lock()
			env.delays++
			env.mu.Unlock()
			return nil
		})
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) register(t *testing.T, email, phone string, role Role) *LoginOutcome {
	t.Helper()
	out, err := env.engine.Register(context.Background(), RegisterInput{
		Email:     email,
		Phone:     phone,
		Password:  testPassword,
		Role:      role,
		ClientIP:  "198.51.100.7",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	})
	if err != nil {
		t.Fatalf("register %s failed: %v", firstNonEmpty(email, phone), err)
	}
	return out
}

func (env *testEnv) login(identifier, pw, deviceID string) (*LoginOutcome, error) {
	return env.engine.Login(context.Background(), LoginInput{
		Identifier: identifier,
		Password:   pw,
		DeviceID:   deviceID,
	})
}

func (env *testEnv) account(t *testing.T, id string) *Account {
	t.Helper()
	acc, err := env.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load account %s: %v", id, err)
	}
	return acc
}
