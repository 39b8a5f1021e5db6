package charityauth

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	return &captureSink{events: make(chan AuditEvent, buffer)}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// collect reads events until n arrived or the deadline passed.
func (s *captureSink) collect(n int) []AuditEvent {
	out := make([]AuditEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-s.events:
			out = append(out, ev)
		case <-timeout:
			return out
		}
	}
	return out
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

type panicSink struct{}

func (panicSink) Emit(context.Context, AuditEvent) {
	panic("sink exploded")
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	env := newTestEnv(t, func(c *Config) { c.Audit.Enabled = false }, func(b *Builder) { b.WithAuditSink(sink) })

	env.register(t, "quiet@example.org", "", RoleDonor)
	_, _ = env.login("quiet@example.org", "Wr0ng!Pass", "")
	env.engine.Close()

	if n := sink.count.Load(); n != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", n)
	}
}

func TestAuditEventsCarryContextFields(t *testing.T) {
	sink := newCaptureSink(32)
	env := newTestEnv(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.BufferSize = 32
		c.Audit.DropIfFull = false
	}, func(b *Builder) { b.WithAuditSink(sink) })

	env.register(t, "ctx@example.org", "", RoleDonor)

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.33"), "test-agent/1.0")
	if _, err := env.engine.Login(ctx, LoginInput{Identifier: "ctx@example.org", Password: "Wr0ng!Pass"}); err == nil {
		t.Fatal("expected login to fail")
	}
	env.engine.Close()

	var ev *AuditEvent
	for _, e := range sink.collect(len(sink.events)) {
		if e.Kind == auditEventLoginFailure {
			e := e
			ev = &e
		}
	}
	if ev == nil || ev.Success {
		t.Fatalf("expected a login failure event, got %+v", ev)
	}
	if ev.IP != "198.51.100.33" || ev.UserAgent != "test-agent/1.0" {
		t.Fatalf("expected request context on event, got ip=%q ua=%q", ev.IP, ev.UserAgent)
	}
	if ev.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("expected stable error code, got %q", ev.Error)
	}
	if !ev.Timestamp.Equal(env.clock.Now()) {
		t.Fatalf("expected engine clock timestamp, got %v", ev.Timestamp)
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := newCaptureSink(64)
	env := newTestEnv(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.BufferSize = 64
		c.Audit.DropIfFull = false
	}, func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()
	const phone = "+15550100060"

	reg := env.register(t, "secret@example.org", phone, RoleDonor)
	pair, err := env.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := env.engine.RequestPasswordReset(ctx, phone); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	code := env.transport.lastCode(t, phone, "password_reset")
	if err := env.engine.ResetPassword(ctx, phone, code, "R3set!Password"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	env.engine.Close()

	needles := []string{
		testPassword,
		"R3set!Password",
		code,
		reg.Tokens.RefreshToken,
		pair.RefreshToken,
		env.account(t, reg.AccountID).PasswordHash,
	}

	events := sink.collect(len(sink.events))
	if len(events) == 0 {
		t.Fatal("expected audit events")
	}
	for _, ev := range events {
		for _, needle := range needles {
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("secret leaked in %s error field", ev.Kind)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("secret leaked in %s metadata", ev.Kind)
				}
			}
		}
	}
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, zap.NewNop())
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{Kind: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{Kind: "e2"})

	start := time.Now()
	dispatcher.Emit(context.Background(), AuditEvent{Kind: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1}, sink, zap.NewNop())
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{Kind: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{Kind: "e2"})

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{Kind: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditDispatcherSurvivesPanickingSink(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4}, panicSink{}, zap.New(core))

	dispatcher.Emit(context.Background(), AuditEvent{Kind: "boom"})
	dispatcher.Close()

	if logs.FilterMessage("audit sink panicked").Len() != 1 {
		t.Fatalf("expected the panic to be logged, got %v", logs.All())
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	sink := &countingSink{}
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4, DropIfFull: true}, sink, nil)

	dispatcher.Emit(context.Background(), AuditEvent{Kind: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{Kind: "e2"})

	if n := sink.count.Load(); n != 1 {
		t.Fatalf("expected the buffered event to be drained once, got %d", n)
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		Kind:      auditEventLoginSuccess,
		AccountID: "acc-1",
		IP:        "127.0.0.1",
		Success:   true,
	})
	sink.Emit(context.Background(), AuditEvent{Kind: auditEventLogout, AccountID: "acc-1", Success: true})

	out := buf.String()
	if !strings.Contains(out, `"kind":"login_success"`) || !strings.Contains(out, `"account_id":"acc-1"`) {
		t.Fatalf("unexpected JSON output: %s", out)
	}
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("expected one line per event, got %q", out)
	}
}

func TestAuditZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), AuditEvent{Kind: auditEventLoginSuccess, AccountID: "acc-1", Success: true})
	sink.Emit(context.Background(), AuditEvent{Kind: auditEventLoginFailure, Error: string(auditErrInvalidCredentials)})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels: %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["error"] != "invalid_credentials" {
		t.Fatalf("expected error field, got %v", entries[1].ContextMap())
	}
}

func TestAuditMultiSinkFansOut(t *testing.T) {
	first, second := &countingSink{}, &countingSink{}
	var kinds []string
	sink := MultiSink{first, nil, second, AuditSinkFunc(func(_ context.Context, ev AuditEvent) {
		kinds = append(kinds, ev.Kind)
	})}

	sink.Emit(context.Background(), AuditEvent{Kind: auditEventDocumentsSubmitted})
	sink.Emit(context.Background(), AuditEvent{Kind: auditEventVerificationApproved})

	if first.count.Load() != 2 || second.count.Load() != 2 {
		t.Fatalf("expected both sinks to see two events, got %d and %d", first.count.Load(), second.count.Load())
	}
	if strings.Join(kinds, ",") != "verification_submitted,verification_approved" {
		t.Fatalf("unexpected order: %v", kinds)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
