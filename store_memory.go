package charityauth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/charityauth/lockout"
	"github.com/MrEthical07/charityauth/otp"
)

// MemoryAccountStore is an AccountStore for tests and single-process tools.
// One mutex guards everything, which makes every method atomic.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byEmail  map[string]string
	byPhone  map[string]string
	docs     map[string][]VerificationDocument
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
		byPhone:  make(map[string]string),
		docs:     make(map[string][]VerificationDocument),
	}
}

func emailKey(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func phoneKey(phone string) string { return otp.Normalize(phone) }

func (s *MemoryAccountStore) Create(_ context.Context, acc *Account) error {
	if acc == nil || acc.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID]; ok {
		return ErrDuplicateAccount
	}
	email, phone := emailKey(acc.Email), phoneKey(acc.Phone)
	if email != "" {
		if _, ok := s.byEmail[email]; ok {
			return ErrDuplicateAccount
		}
	}
	if phone != "" {
		if _, ok := s.byPhone[phone]; ok {
			return ErrDuplicateAccount
		}
	}

	stored := acc.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.accounts[acc.ID] = stored
	if email != "" {
		s.byEmail[email] = acc.ID
	}
	if phone != "" {
		s.byPhone[phone] = acc.ID
	}
	return nil
}

func (s *MemoryAccountStore) GetByID(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (s *MemoryAccountStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.Lock()
	id, ok := s.byEmail[emailKey(email)]
	s.mu.Unlock()
	if !ok {
		return nil, ErrAccountNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *MemoryAccountStore) GetByPhone(ctx context.Context, phone string) (*Account, error) {
	s.mu.Lock()
	id, ok := s.byPhone[phoneKey(phone)]
	s.mu.Unlock()
	if !ok {
		return nil, ErrAccountNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *MemoryAccountStore) FindByEmailOrPhone(ctx context.Context, identifier string) (*Account, error) {
	if strings.Contains(identifier, "@") {
		return s.GetByEmail(ctx, identifier)
	}
	return s.GetByPhone(ctx, identifier)
}

func (s *MemoryAccountStore) Update(_ context.Context, id string, fn func(*Account) error) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID

	oldEmail, newEmail := emailKey(cur.Email), emailKey(next.Email)
	oldPhone, newPhone := phoneKey(cur.Phone), phoneKey(next.Phone)
	if newEmail != oldEmail && newEmail != "" {
		if _, taken := s.byEmail[newEmail]; taken {
			return nil, ErrDuplicateAccount
		}
	}
	if newPhone != oldPhone && newPhone != "" {
		if _, taken := s.byPhone[newPhone]; taken {
			return nil, ErrDuplicateAccount
		}
	}
	if newEmail != oldEmail {
		delete(s.byEmail, oldEmail)
		if newEmail != "" {
			s.byEmail[newEmail] = id
		}
	}
	if newPhone != oldPhone {
		delete(s.byPhone, oldPhone)
		if newPhone != "" {
			s.byPhone[newPhone] = id
		}
	}

	s.accounts[id] = next
	return next.Clone(), nil
}

func (s *MemoryAccountStore) RecordLoginFailure(ctx context.Context, id string, policy lockout.Policy, now time.Time) (*Account, error) {
	return s.Update(ctx, id, func(a *Account) error {
		cur := lockout.State{FailedAttempts: a.FailedLoginAttempts, LockedUntil: a.LockedUntil}
		if cur.Locked(now) {
			return ErrAccountLocked
		}
		st := lockout.Apply(cur, policy, now)
		a.FailedLoginAttempts = st.FailedAttempts
		a.LockedUntil = st.LockedUntil
		a.UpdatedAt = now
		return nil
	})
}

func (s *MemoryAccountStore) RecordLoginSuccess(ctx context.Context, id, ip string, now time.Time) error {
	_, err := s.Update(ctx, id, func(a *Account) error {
		if a.LockedUntil != nil && a.LockedUntil.After(now) {
			return ErrAccountLocked
		}
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
		at := now
		a.LastLoginAt = &at
		a.LastLoginIP = ip
		a.UpdatedAt = now
		return nil
	})
	return err
}

func (s *MemoryAccountStore) RotateRefreshToken(ctx context.Context, id, old, next string, nextExpiry, now time.Time) (*Account, error) {
	return s.Update(ctx, id, func(a *Account) error {
		if old == "" || a.RefreshToken != old || a.RefreshTokenExpires == nil || !a.RefreshTokenExpires.After(now) {
			return ErrInvalidRefreshToken
		}
		exp := nextExpiry
		a.RefreshToken = next
		a.RefreshTokenExpires = &exp
		a.UpdatedAt = now
		return nil
	})
}

func (s *MemoryAccountStore) AddDocuments(_ context.Context, id string, docs []VerificationDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if acc.Status == StatusSuspended {
		return ErrInvalidStatusTransition
	}
	for _, d := range docs {
		d.AccountID = id
		d.Status = DocumentPending
		s.docs[id] = append(s.docs[id], d)
	}
	acc.Status = StatusNeedVerification
	if len(docs) > 0 {
		acc.UpdatedAt = docs[0].SubmittedAt
	}
	return nil
}

func (s *MemoryAccountStore) PendingDocuments(_ context.Context, id string) ([]VerificationDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return nil, ErrAccountNotFound
	}
	var out []VerificationDocument
	for _, d := range s.docs[id] {
		if d.Status == DocumentPending {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *MemoryAccountStore) ReviewPendingDocuments(_ context.Context, id, reviewerID string, approve bool, note string, now time.Time) (*Account, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, 0, ErrAccountNotFound
	}

	status := DocumentRejected
	if approve {
		status = DocumentApproved
	}

	reviewed := 0
	docs := s.docs[id]
	for i := range docs {
		if docs[i].Status != DocumentPending {
			continue
		}
		at := now
		docs[i].Status = status
		docs[i].ReviewedBy = reviewerID
		docs[i].ReviewedAt = &at
		docs[i].AdminNote = note
		reviewed++
	}
	if reviewed == 0 {
		return nil, 0, ErrNoPendingDocuments
	}

	if approve {
		at := now
		acc.Status = StatusActive
		acc.VerifiedAt = &at
		acc.VerifiedBy = reviewerID
	} else {
		acc.Status = StatusRejected
	}
	acc.UpdatedAt = now
	return acc.Clone(), reviewed, nil
}

func (s *MemoryAccountStore) ListPendingVerifications(_ context.Context, limit int) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type pending struct {
		acc   *Account
		since time.Time
	}
	var found []pending
	for id, docs := range s.docs {
		var since time.Time
		for _, d := range docs {
			if d.Status == DocumentPending && (since.IsZero() || d.SubmittedAt.Before(since)) {
				since = d.SubmittedAt
			}
		}
		if !since.IsZero() {
			found = append(found, pending{acc: s.accounts[id], since: since})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].since.Before(found[j].since) })

	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	out := make([]*Account, len(found))
	for i, p := range found {
		out[i] = p.acc.Clone()
	}
	return out, nil
}
