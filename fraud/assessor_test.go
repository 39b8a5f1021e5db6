package fraud

import (
	"context"
	"testing"

	"github.com/MrEthical07/charityauth/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

func TestCleanRequestScoresZero(t *testing.T) {
	a := NewAssessor(kv.NewMemory(), DefaultConfig())

	got, err := a.Assess(context.Background(), Request{IP: "10.0.0.1", UserAgent: browserUA, Email: "a@example.org"})
	require.NoError(t, err)
	assert.Zero(t, got.Score)
	assert.Empty(t, got.Reasons)
	assert.False(t, got.RequiresCaptcha)
}

func TestSuspiciousUserAgent(t *testing.T) {
	for _, ua := range []string{"", "curl/8.4.0", "python-requests/2.31", "Go-http-client/1.1", "Googlebot/2.1 (+http://www.google.com/bot.html)"} {
		assert.True(t, SuspiciousUserAgent(ua), ua)
	}
	assert.False(t, SuspiciousUserAgent(browserUA))
}

func TestDisposableEmailAndAgentTriggerCaptcha(t *testing.T) {
	a := NewAssessor(nil, DefaultConfig())

	got, err := a.Assess(context.Background(), Request{UserAgent: "curl/8.0", Email: "x@mailinator.com"})
	require.NoError(t, err)
	assert.Equal(t, 35, got.Score)
	assert.True(t, got.Has(ReasonDisposableEmail))
	assert.True(t, got.Has(ReasonSuspiciousAgent))
	assert.True(t, got.RequiresCaptcha)
	assert.False(t, got.RequiresAdminReview)
}

func TestAccountCountersRaiseScoreToReview(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := NewAssessor(kv.NewRedis(client, "fraud"), DefaultConfig())
	for i := 0; i < 4; i++ {
		require.NoError(t, a.RecordAccount(ctx, "10.0.0.9", "dev-1"))
	}

	got, err := a.Assess(ctx, Request{IP: "10.0.0.9", DeviceID: "dev-1", UserAgent: browserUA})
	require.NoError(t, err)
	assert.True(t, got.Has(ReasonAccountsPerIP))
	assert.True(t, got.Has(ReasonDeviceReuse))
	assert.Equal(t, 70, got.Score)
	assert.True(t, got.Suspicious)
	assert.True(t, got.RequiresAdminReview)
}

func TestRequestRateSignal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRequestsPerWindow = 2
	a := NewAssessor(kv.NewMemory(), cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := a.Assess(ctx, Request{IP: "1.2.3.4", UserAgent: browserUA})
		require.NoError(t, err)
		assert.False(t, got.Has(ReasonHighRequestRate))
	}
	got, err := a.Assess(ctx, Request{IP: "1.2.3.4", UserAgent: browserUA})
	require.NoError(t, err)
	assert.True(t, got.Has(ReasonHighRequestRate))
}

func TestDisabledAssessorIsSilent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	a := NewAssessor(kv.NewMemory(), cfg)

	got, err := a.Assess(context.Background(), Request{UserAgent: "curl"})
	require.NoError(t, err)
	assert.Zero(t, got.Score)
}
