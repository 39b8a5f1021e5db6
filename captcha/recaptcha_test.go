package captcha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, status int, body string) (*httptest.Server, url.Values) {
	t.Helper()
	seen := url.Values{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		for k, v := range r.PostForm {
			seen[k] = v
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func newVerifier(t *testing.T, endpoint string) *ReCaptcha {
	t.Helper()
	v, err := NewReCaptcha(nil, Config{Secret: "s3cret", MinScore: 0.5, VerifyURL: endpoint})
	require.NoError(t, err)
	return v
}

func TestReCaptchaAcceptsHighScore(t *testing.T) {
	srv, seen := newServer(t, http.StatusOK, `{"success":true,"score":0.9}`)
	ok, err := newVerifier(t, srv.URL).Verify(context.Background(), "tok", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s3cret", seen.Get("secret"))
	assert.Equal(t, "tok", seen.Get("response"))
	assert.Equal(t, "10.0.0.1", seen.Get("remoteip"))
}

func TestReCaptchaRejectsLowScoreAndFailure(t *testing.T) {
	low, _ := newServer(t, http.StatusOK, `{"success":true,"score":0.2}`)
	ok, err := newVerifier(t, low.URL).Verify(context.Background(), "tok", "")
	require.NoError(t, err)
	assert.False(t, ok)

	failed, _ := newServer(t, http.StatusOK, `{"success":false,"error-codes":["invalid-input-response"]}`)
	ok, err = newVerifier(t, failed.URL).Verify(context.Background(), "tok", "")
	require.NoError(t, err)
	assert.False(t, ok)

	v2, _ := newServer(t, http.StatusOK, `{"success":true}`)
	ok, err = newVerifier(t, v2.URL).Verify(context.Background(), "tok", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReCaptchaProviderErrors(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError, ``)
	_, err := newVerifier(t, srv.URL).Verify(context.Background(), "tok", "")
	assert.True(t, errors.Is(err, ErrUnavailable))

	ok, err := newVerifier(t, srv.URL).Verify(context.Background(), "", "")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestNewReCaptchaValidation(t *testing.T) {
	_, err := NewReCaptcha(nil, Config{})
	assert.Error(t, err)
	_, err = NewReCaptcha(nil, Config{Secret: "x", MinScore: 2})
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	ok, _ := Static{Token: "pass"}.Verify(context.Background(), "pass", "")
	assert.True(t, ok)
	ok, _ = Static{Token: "pass"}.Verify(context.Background(), "nope", "")
	assert.False(t, ok)
	ok, _ = Static{}.Verify(context.Background(), "", "")
	assert.False(t, ok)
}
