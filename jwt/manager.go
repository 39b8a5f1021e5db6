package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// ErrInvalidToken covers signature mismatch, expiry, wrong type and malformed
// payloads alike.
var ErrInvalidToken = errors.New("invalid token")

// Config holds signing keys and validation settings. Token lifetimes are
// chosen per call.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

// AccessClaims is the payload of an access token. It is verifiable without
// any store lookup.
type AccessClaims struct {
	Type     string   `json:"type"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	DeviceID string   `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. ID carries the jti.
type RefreshClaims struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// AccessExtras are the caller-supplied claims of an access token.
type AccessExtras struct {
	Email    string
	Roles    []string
	DeviceID string
}

// Manager signs and verifies access and refresh tokens.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager.
//
// NewManager may return an error when a key is missing or unparsable.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			cfg.PublicKey = priv.Public().(ed25519.PublicKey)
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg, now: time.Now}, nil
}

// WithClock replaces the time source used for iat/exp and validation.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := m.now()
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    m.config.Issuer,
	}
	if m.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{m.config.Audience}
	}
	return rc
}

// IssueAccess signs an access token for subject valid for ttl.
func (m *Manager) IssueAccess(subject string, extra AccessExtras, ttl time.Duration) (string, error) {
	if subject == "" || ttl <= 0 {
		return "", errors.New("access token requires subject and positive ttl")
	}

	claims := AccessClaims{
		Type:             TypeAccess,
		Email:            extra.Email,
		Roles:            extra.Roles,
		DeviceID:         extra.DeviceID,
		RegisteredClaims: m.registered(subject, ttl),
	}
	return m.sign(claims)
}

// IssueRefresh signs a refresh token carrying a fresh jti and the device the
// session was opened on. The caller owns persisting it as the account's only
// valid refresh token.
func (m *Manager) IssueRefresh(subject, deviceID string, ttl time.Duration) (string, *RefreshClaims, error) {
	if subject == "" || ttl <= 0 {
		return "", nil, errors.New("refresh token requires subject and positive ttl")
	}

	claims := RefreshClaims{
		Type:             TypeRefresh,
		DeviceID:         deviceID,
		RegisteredClaims: m.registered(subject, ttl),
	}
	claims.ID = uuid.NewString()

	token, err := m.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return token, &claims, nil
}

// Decode verifies signature and expiry of any token type and returns its
// subject.
func (m *Manager) Decode(token string) (string, error) {
	var claims RefreshClaims
	if err := m.parse(token, &claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// ParseAccess verifies an access token.
func (m *Manager) ParseAccess(token string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := m.parse(token, &claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// ParseRefresh verifies a refresh token.
func (m *Manager) ParseRefresh(token string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := m.parse(token, &claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(m.method(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	key, err := m.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if m.config.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != m.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return m.verifyKey()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) signKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPrivateKey(m.config.PrivateKey)
}

func (m *Manager) verifyKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPublicKey(m.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
