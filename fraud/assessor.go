// Package fraud scores sign-up requests for signs of automated or abusive
// account creation. The score only gates extra friction (captcha, manual
// review); it never rejects a request on its own.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/charityauth/kv"
	"github.com/mssola/user_agent"
)

// Reason names one signal that contributed to a score.
type Reason string

const (
	ReasonAccountsPerIP   Reason = "multiple_accounts_same_ip"
	ReasonSuspiciousAgent Reason = "suspicious_user_agent"
	ReasonDisposableEmail Reason = "disposable_email"
	ReasonHighRequestRate Reason = "high_request_rate"
	ReasonDeviceReuse     Reason = "device_id_abuse"
)

var weights = map[Reason]int{
	ReasonAccountsPerIP:   30,
	ReasonSuspiciousAgent: 15,
	ReasonDisposableEmail: 20,
	ReasonHighRequestRate: 30,
	ReasonDeviceReuse:     40,
}

// Config holds thresholds. Zero values take defaults.
type Config struct {
	Enabled               bool          `mapstructure:"enabled"`
	MaxAccountsPerIP      int           `mapstructure:"max_accounts_per_ip"`
	MaxAccountsPerDevice  int           `mapstructure:"max_accounts_per_device"`
	MaxRequestsPerWindow  int           `mapstructure:"max_requests_per_window"`
	RequestWindow         time.Duration `mapstructure:"request_window"`
	CounterTTL            time.Duration `mapstructure:"counter_ttl"`
	SuspiciousThreshold   int           `mapstructure:"suspicious_threshold"`
	CaptchaTriggerScore   int           `mapstructure:"captcha_trigger_score"`
	AdminReviewScore      int           `mapstructure:"admin_review_score"`
	DisposableDomainHints []string      `mapstructure:"disposable_domain_hints"`
}

// DefaultConfig mirrors the platform's production thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxAccountsPerIP:     3,
		MaxAccountsPerDevice: 2,
		MaxRequestsPerWindow: 30,
		RequestWindow:        time.Minute,
		CounterTTL:           24 * time.Hour,
		SuspiciousThreshold:  50,
		CaptchaTriggerScore:  30,
		AdminReviewScore:     70,
		DisposableDomainHints: []string{
			"tempmail", "10minute", "guerrillamail", "mailinator",
			"yopmail", "throwaway", "disposable",
		},
	}
}

// Request carries the signals available for one sign-up attempt.
type Request struct {
	IP        string
	UserAgent string
	DeviceID  string
	Email     string
}

// Assessment is the scored result.
type Assessment struct {
	Score               int
	Reasons             []Reason
	Suspicious          bool
	RequiresCaptcha     bool
	RequiresAdminReview bool
}

// Has reports whether r contributed to the score.
func (a Assessment) Has(r Reason) bool {
	for _, v := range a.Reasons {
		if v == r {
			return true
		}
	}
	return false
}

var agentPatterns = []string{
	"curl", "wget", "python", "java", "go-http-client",
	"scrapy", "bot", "crawler", "spider",
}

// Assessor scores requests using counters in a kv.Store. A nil store
// disables the counter-based signals.
type Assessor struct {
	store  kv.Store
	config Config
}

// NewAssessor returns an Assessor.
func NewAssessor(store kv.Store, cfg Config) *Assessor {
	def := DefaultConfig()
	if cfg.MaxAccountsPerIP <= 0 {
		cfg.MaxAccountsPerIP = def.MaxAccountsPerIP
	}
	if cfg.MaxAccountsPerDevice <= 0 {
		cfg.MaxAccountsPerDevice = def.MaxAccountsPerDevice
	}
	if cfg.MaxRequestsPerWindow <= 0 {
		cfg.MaxRequestsPerWindow = def.MaxRequestsPerWindow
	}
	if cfg.RequestWindow <= 0 {
		cfg.RequestWindow = def.RequestWindow
	}
	if cfg.CounterTTL <= 0 {
		cfg.CounterTTL = def.CounterTTL
	}
	if cfg.SuspiciousThreshold <= 0 {
		cfg.SuspiciousThreshold = def.SuspiciousThreshold
	}
	if cfg.CaptchaTriggerScore <= 0 {
		cfg.CaptchaTriggerScore = def.CaptchaTriggerScore
	}
	if cfg.AdminReviewScore <= 0 {
		cfg.AdminReviewScore = def.AdminReviewScore
	}
	if cfg.DisposableDomainHints == nil {
		cfg.DisposableDomainHints = def.DisposableDomainHints
	}
	return &Assessor{store: store, config: cfg}
}

func ipAccountsKey(ip string) string     { return "accounts:ip:" + ip }
func ipRequestsKey(ip string) string     { return "requests:ip:" + ip }
func deviceAccountsKey(id string) string { return "device:accounts:" + id }

// Assess scores req. Counting this request against the per-IP request rate
// is a side effect. Backend failures are returned with the partial result.
func (a *Assessor) Assess(ctx context.Context, req Request) (Assessment, error) {
	if !a.config.Enabled {
		return Assessment{}, nil
	}

	hits := make(map[Reason]struct{})
	var errs []error

	if SuspiciousUserAgent(req.UserAgent) {
		hits[ReasonSuspiciousAgent] = struct{}{}
	}
	if req.Email != "" && a.disposable(req.Email) {
		hits[ReasonDisposableEmail] = struct{}{}
	}

	if a.store != nil && req.IP != "" {
		n, err := a.count(ctx, ipAccountsKey(req.IP))
		if err != nil {
			errs = append(errs, err)
		} else if n > int64(a.config.MaxAccountsPerIP) {
			hits[ReasonAccountsPerIP] = struct{}{}
		}

		rate, err := a.store.Incr(ctx, ipRequestsKey(req.IP), a.config.RequestWindow)
		if err != nil {
			errs = append(errs, err)
		} else if rate > int64(a.config.MaxRequestsPerWindow) {
			hits[ReasonHighRequestRate] = struct{}{}
		}
	}

	if a.store != nil && req.DeviceID != "" {
		n, err := a.count(ctx, deviceAccountsKey(req.DeviceID))
		if err != nil {
			errs = append(errs, err)
		} else if n > int64(a.config.MaxAccountsPerDevice) {
			hits[ReasonDeviceReuse] = struct{}{}
		}
	}

	out := Assessment{Reasons: make([]Reason, 0, len(hits))}
	for r := range hits {
		out.Score += weights[r]
		out.Reasons = append(out.Reasons, r)
	}
	sort.Slice(out.Reasons, func(i, j int) bool { return out.Reasons[i] < out.Reasons[j] })
	out.Suspicious = out.Score >= a.config.SuspiciousThreshold
	out.RequiresCaptcha = out.Score >= a.config.CaptchaTriggerScore
	out.RequiresAdminReview = out.Score >= a.config.AdminReviewScore

	if len(errs) > 0 {
		return out, fmt.Errorf("%w: %v", kv.ErrUnavailable, errors.Join(errs...))
	}
	return out, nil
}

// RecordAccount counts a created account against its IP and device.
func (a *Assessor) RecordAccount(ctx context.Context, ip, deviceID string) error {
	if !a.config.Enabled || a.store == nil {
		return nil
	}
	if ip != "" {
		if _, err := a.store.Incr(ctx, ipAccountsKey(ip), a.config.CounterTTL); err != nil {
			return err
		}
	}
	if deviceID != "" {
		if _, err := a.store.Incr(ctx, deviceAccountsKey(deviceID), a.config.CounterTTL); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assessor) count(ctx context.Context, key string) (int64, error) {
	v, err := a.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (a *Assessor) disposable(email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, hint := range a.config.DisposableDomainHints {
		if hint != "" && strings.Contains(domain, hint) {
			return true
		}
	}
	return false
}

// SuspiciousUserAgent reports whether ua is empty, parses as a bot, or names
// a scripting client.
func SuspiciousUserAgent(ua string) bool {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return true
	}
	if user_agent.New(ua).Bot() {
		return true
	}
	lower := strings.ToLower(ua)
	for _, p := range agentPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
