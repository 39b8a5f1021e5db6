package otp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/charityauth/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	destination string
	message     string
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (r *recordingTransport) Send(_ context.Context, destination, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{destination: destination, message: message})
	return r.err
}

func newTestChannel(t *testing.T, store kv.Store, transport Transport) *Channel {
	t.Helper()

	ch, err := New(store, transport, DefaultConfig())
	require.NoError(t, err)
	ch.generate = func(int) (string, error) { return "482913", nil }
	return ch
}

func TestSendThenVerifySucceedsOnce(t *testing.T) {
	ctx := context.Background()
	transport := &recordingTransport{}
	ch := newTestChannel(t, kv.NewMemory(), transport)

	receipt, err := ch.Send(ctx, "+98 912-000-1111", PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, "+989120001111", receipt.Destination)
	require.Len(t, transport.sent, 1)
	assert.True(t, strings.Contains(transport.sent[0].message, "482913"))

	require.NoError(t, ch.Verify(ctx, "+989120001111", "482913", PurposeLogin))
	assert.ErrorIs(t, ch.Verify(ctx, "+989120001111", "482913", PurposeLogin), ErrExpired)
}

func TestSendRejectsWhileCodeIsLive(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	now := time.Unix(1_700_000_000, 0)
	mem.WithClock(func() time.Time { return now })
	ch := newTestChannel(t, mem, nil)

	_, err := ch.Send(ctx, "a@x.com", PurposeRegister)
	require.NoError(t, err)

	_, err = ch.Send(ctx, "A@X.com", PurposeRegister)
	assert.ErrorIs(t, err, ErrAlreadySent)

	_, err = ch.Send(ctx, "a@x.com", PurposeDevice)
	assert.NoError(t, err, "a different purpose is a different key")

	now = now.Add(5*time.Minute + time.Second)
	_, err = ch.Send(ctx, "a@x.com", PurposeRegister)
	assert.NoError(t, err)
}

func TestVerifyWithoutSendIsExpired(t *testing.T) {
	ch := newTestChannel(t, kv.NewMemory(), nil)
	assert.ErrorIs(t, ch.Verify(context.Background(), "+15550001", "000000", PurposeLogin), ErrExpired)
}

func TestVerifyAfterTTLIsExpired(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	now := time.Unix(1_700_000_000, 0)
	mem.WithClock(func() time.Time { return now })
	ch := newTestChannel(t, mem, nil)

	_, err := ch.Send(ctx, "+15550001", PurposeLogin)
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	assert.ErrorIs(t, ch.Verify(ctx, "+15550001", "482913", PurposeLogin), ErrExpired)
}

func TestAttemptCapPinnedToFourthCall(t *testing.T) {
	ctx := context.Background()
	ch := newTestChannel(t, kv.NewMemory(), nil)

	_, err := ch.Send(ctx, "+15550001", PurposeLogin)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		err := ch.Verify(ctx, "+15550001", "000000", PurposeLogin)
		require.ErrorIs(t, err, ErrInvalid, "attempt %d", i)
	}

	// The right code no longer helps once the cap is exceeded.
	assert.ErrorIs(t, ch.Verify(ctx, "+15550001", "482913", PurposeLogin), ErrTooManyAttempts)
	assert.ErrorIs(t, ch.Verify(ctx, "+15550001", "482913", PurposeLogin), ErrTooManyAttempts)
}

func TestConcurrentVerifyCannotExceedCap(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	ch := newTestChannel(t, kv.NewRedis(client, "t"), nil)
	_, err := ch.Send(ctx, "+15550001", PurposeLogin)
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ch.Verify(ctx, "+15550001", "111111", PurposeLogin)
		}()
	}
	wg.Wait()
	close(results)

	invalid, capped := 0, 0
	for err := range results {
		switch {
		case errors.Is(err, ErrInvalid):
			invalid++
		case errors.Is(err, ErrTooManyAttempts):
			capped++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, invalid, "only MaxAttempts comparisons may run")
	assert.Equal(t, workers-3, capped)
}

func TestDeliveryFailureKeepsCode(t *testing.T) {
	ctx := context.Background()
	transport := &recordingTransport{err: errors.New("gateway down")}
	ch := newTestChannel(t, kv.NewMemory(), transport)

	_, err := ch.Send(ctx, "+15550001", PurposeTwoFactor)
	require.ErrorIs(t, err, ErrDelivery)

	pending, err := ch.Pending(ctx, "+15550001", PurposeTwoFactor)
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestGeneratedCodesAreSixDigits(t *testing.T) {
	ch, err := New(kv.NewMemory(), nil, DefaultConfig())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		code, err := ch.generate(ch.config.Digits)
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.NotEqual(t, byte('0'), code[0])
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a@x.com", Normalize("  A@X.Com "))
	assert.Equal(t, "+989121234567", Normalize("+98 (912) 123-4567"))
}
