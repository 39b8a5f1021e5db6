// Package postgres implements charityauth.AccountStore on PostgreSQL using
// pgx. Every read-modify-write runs in a transaction holding the account row
// lock, which gives Update and RotateRefreshToken the same atomicity as the
// in-memory store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/charityauth"
	"github.com/MrEthical07/charityauth/lockout"
	"github.com/MrEthical07/charityauth/otp"
	"github.com/MrEthical07/charityauth/twofactor"
)

var accountColumns = []string{
	"id", "email", "phone", "username", "password_hash", "roles", "status", "is_active",
	"failed_login_attempts", "locked_until",
	"two_factor_enabled", "two_factor_secret", "two_factor_method", "backup_codes",
	"trusted_devices", "refresh_token", "refresh_token_expires",
	"phone_verified", "last_login_at", "last_login_ip", "verified_at", "verified_by",
	"created_at", "updated_at", "two_factor_last_step",
}

func selectAccounts(alias string) string {
	cols := make([]string, len(accountColumns))
	for i, c := range accountColumns {
		if alias != "" {
			c = alias + "." + c
		}
		cols[i] = c
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM accounts"
}

// Store is a PostgreSQL AccountStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ charityauth.AccountStore = (*Store)(nil)

// New wraps an existing pool. Run Migrate once before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open parses dsn, applies pool limits and pings the server.
func Open(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

func emailKey(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func phoneKey(phone string) string { return otp.Normalize(phone) }

func (s *Store) Create(ctx context.Context, acc *charityauth.Account) error {
	if acc == nil || acc.ID == "" {
		return charityauth.ErrInvalidInput
	}
	updated := acc.UpdatedAt
	if updated.IsZero() {
		updated = acc.CreatedAt
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, email, email_key, phone, phone_key, username, password_hash, roles, status, is_active,
			failed_login_attempts, locked_until,
			two_factor_enabled, two_factor_secret, two_factor_method, backup_codes,
			trusted_devices, refresh_token, refresh_token_expires,
			phone_verified, last_login_at, last_login_ip, verified_at, verified_by,
			created_at, updated_at, two_factor_last_step
		) VALUES (
			$1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, $27
		)`,
		acc.ID, acc.Email, emailKey(acc.Email), acc.Phone, phoneKey(acc.Phone), acc.Username, acc.PasswordHash,
		acc.Roles.Strings(), string(acc.Status), acc.IsActive,
		acc.FailedLoginAttempts, acc.LockedUntil,
		acc.TwoFactorEnabled, acc.TwoFactorSecret, string(acc.TwoFactorMethod), backupCodes(acc.BackupCodes),
		strs(acc.TrustedDevices), acc.RefreshToken, acc.RefreshTokenExpires,
		acc.PhoneVerified, acc.LastLoginAt, acc.LastLoginIP, acc.VerifiedAt, acc.VerifiedBy,
		acc.CreatedAt, updated, acc.TwoFactorLastStep,
	)
	return translate("create account", err)
}

func (s *Store) GetByID(ctx context.Context, id string) (*charityauth.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, selectAccounts("")+" WHERE id = $1", id))
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*charityauth.Account, error) {
	key := emailKey(email)
	if key == "" {
		return nil, charityauth.ErrAccountNotFound
	}
	return scanAccount(s.pool.QueryRow(ctx, selectAccounts("")+" WHERE email_key = $1", key))
}

func (s *Store) GetByPhone(ctx context.Context, phone string) (*charityauth.Account, error) {
	key := phoneKey(phone)
	if key == "" {
		return nil, charityauth.ErrAccountNotFound
	}
	return scanAccount(s.pool.QueryRow(ctx, selectAccounts("")+" WHERE phone_key = $1", key))
}

func (s *Store) FindByEmailOrPhone(ctx context.Context, identifier string) (*charityauth.Account, error) {
	if strings.Contains(identifier, "@") {
		return s.GetByEmail(ctx, identifier)
	}
	return s.GetByPhone(ctx, identifier)
}

func (s *Store) Update(ctx context.Context, id string, fn func(*charityauth.Account) error) (*charityauth.Account, error) {
	var out *charityauth.Account
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, err := lockAccount(ctx, tx, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.ID = cur.ID
		if err := writeAccount(ctx, tx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

func (s *Store) RecordLoginFailure(ctx context.Context, id string, policy lockout.Policy, now time.Time) (*charityauth.Account, error) {
	return s.Update(ctx, id, func(a *charityauth.Account) error {
		cur := lockout.State{FailedAttempts: a.FailedLoginAttempts, LockedUntil: a.LockedUntil}
		if cur.Locked(now) {
			return charityauth.ErrAccountLocked
		}
		st := lockout.Apply(cur, policy, now)
		a.FailedLoginAttempts = st.FailedAttempts
		a.LockedUntil = st.LockedUntil
		a.UpdatedAt = now
		return nil
	})
}

func (s *Store) RecordLoginSuccess(ctx context.Context, id, ip string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET failed_login_attempts = 0, locked_until = NULL, last_login_at = $2, last_login_ip = $3, updated_at = $2
		WHERE id = $1 AND (locked_until IS NULL OR locked_until <= $2)`, id, now, ip)
	if err != nil {
		return translate("record login success", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return translate("record login success", err)
	}
	if !exists {
		return charityauth.ErrAccountNotFound
	}
	return charityauth.ErrAccountLocked
}

func (s *Store) RotateRefreshToken(ctx context.Context, id, old, next string, nextExpiry, now time.Time) (*charityauth.Account, error) {
	return s.Update(ctx, id, func(a *charityauth.Account) error {
		if old == "" || a.RefreshToken != old || a.RefreshTokenExpires == nil || !a.RefreshTokenExpires.After(now) {
			return charityauth.ErrInvalidRefreshToken
		}
		exp := nextExpiry
		a.RefreshToken = next
		a.RefreshTokenExpires = &exp
		a.UpdatedAt = now
		return nil
	})
}

func (s *Store) AddDocuments(ctx context.Context, id string, docs []charityauth.VerificationDocument) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if err != nil {
			return translate("lock account", err)
		}
		if charityauth.AccountStatus(status) == charityauth.StatusSuspended {
			return charityauth.ErrInvalidStatusTransition
		}

		batch := &pgx.Batch{}
		for _, d := range docs {
			batch.Queue(`
				INSERT INTO verification_documents (id, account_id, type, number, file_url, status, submitted_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				d.ID, id, string(d.Type), d.Number, d.FileURL, string(charityauth.DocumentPending), d.SubmittedAt)
		}
		if len(docs) > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return translate("insert documents", err)
			}
		}

		if len(docs) > 0 {
			_, err = tx.Exec(ctx, `UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1`,
				id, string(charityauth.StatusNeedVerification), docs[0].SubmittedAt)
		} else {
			_, err = tx.Exec(ctx, `UPDATE accounts SET status = $2 WHERE id = $1`,
				id, string(charityauth.StatusNeedVerification))
		}
		return translate("mark account for review", err)
	})
}

func (s *Store) PendingDocuments(ctx context.Context, id string) ([]charityauth.VerificationDocument, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, translate("check account", err)
	}
	if !exists {
		return nil, charityauth.ErrAccountNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, type, number, file_url, status, reviewed_by, reviewed_at, admin_note, submitted_at
		FROM verification_documents
		WHERE account_id = $1 AND status = $2
		ORDER BY submitted_at, id`, id, string(charityauth.DocumentPending))
	if err != nil {
		return nil, translate("list documents", err)
	}
	defer rows.Close()

	var out []charityauth.VerificationDocument
	for rows.Next() {
		var d charityauth.VerificationDocument
		var typ, status string
		if err := rows.Scan(&d.ID, &d.AccountID, &typ, &d.Number, &d.FileURL, &status,
			&d.ReviewedBy, &d.ReviewedAt, &d.AdminNote, &d.SubmittedAt); err != nil {
			return nil, translate("scan document", err)
		}
		d.Type = charityauth.DocumentType(typ)
		d.Status = charityauth.DocumentStatus(status)
		d.SubmittedAt = d.SubmittedAt.UTC()
		d.ReviewedAt = utc(d.ReviewedAt)
		out = append(out, d)
	}
	return out, translate("list documents", rows.Err())
}

func (s *Store) ReviewPendingDocuments(ctx context.Context, id, reviewerID string, approve bool, note string, now time.Time) (*charityauth.Account, int, error) {
	var out *charityauth.Account
	var reviewed int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		acc, err := lockAccount(ctx, tx, id)
		if err != nil {
			return err
		}

		docStatus := charityauth.DocumentRejected
		if approve {
			docStatus = charityauth.DocumentApproved
		}
		tag, err := tx.Exec(ctx, `
			UPDATE verification_documents
			SET status = $3, reviewed_by = $4, reviewed_at = $5, admin_note = $6
			WHERE account_id = $1 AND status = $2`,
			id, string(charityauth.DocumentPending), string(docStatus), reviewerID, now, note)
		if err != nil {
			return translate("review documents", err)
		}
		reviewed = int(tag.RowsAffected())
		if reviewed == 0 {
			return charityauth.ErrNoPendingDocuments
		}

		if approve {
			at := now
			acc.Status = charityauth.StatusActive
			acc.VerifiedAt = &at
			acc.VerifiedBy = reviewerID
		} else {
			acc.Status = charityauth.StatusRejected
		}
		acc.UpdatedAt = now
		if err := writeAccount(ctx, tx, acc); err != nil {
			return err
		}
		out = acc
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, reviewed, nil
}

func (s *Store) ListPendingVerifications(ctx context.Context, limit int) ([]*charityauth.Account, error) {
	if limit < 0 {
		limit = 0
	}
	rows, err := s.pool.Query(ctx, selectAccounts("a")+` a
		JOIN (
			SELECT account_id, min(submitted_at) AS since
			FROM verification_documents
			WHERE status = $1
			GROUP BY account_id
		) p ON p.account_id = a.id
		ORDER BY p.since, a.id
		LIMIT NULLIF($2::int, 0)`, string(charityauth.DocumentPending), limit)
	if err != nil {
		return nil, translate("list pending verifications", err)
	}
	defer rows.Close()

	var out []*charityauth.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, translate("list pending verifications", rows.Err())
}

func lockAccount(ctx context.Context, tx pgx.Tx, id string) (*charityauth.Account, error) {
	return scanAccount(tx.QueryRow(ctx, selectAccounts("")+" WHERE id = $1 FOR UPDATE", id))
}

func writeAccount(ctx context.Context, tx pgx.Tx, acc *charityauth.Account) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET
			email = $2, email_key = NULLIF($3, ''), phone = $4, phone_key = NULLIF($5, ''),
			username = $6, password_hash = $7, roles = $8, status = $9, is_active = $10,
			failed_login_attempts = $11, locked_until = $12,
			two_factor_enabled = $13, two_factor_secret = $14, two_factor_method = $15, backup_codes = $16,
			trusted_devices = $17, refresh_token = $18, refresh_token_expires = $19,
			phone_verified = $20, last_login_at = $21, last_login_ip = $22, verified_at = $23, verified_by = $24,
			updated_at = $25, two_factor_last_step = $26
		WHERE id = $1`,
		acc.ID, acc.Email, emailKey(acc.Email), acc.Phone, phoneKey(acc.Phone),
		acc.Username, acc.PasswordHash, acc.Roles.Strings(), string(acc.Status), acc.IsActive,
		acc.FailedLoginAttempts, acc.LockedUntil,
		acc.TwoFactorEnabled, acc.TwoFactorSecret, string(acc.TwoFactorMethod), backupCodes(acc.BackupCodes),
		strs(acc.TrustedDevices), acc.RefreshToken, acc.RefreshTokenExpires,
		acc.PhoneVerified, acc.LastLoginAt, acc.LastLoginIP, acc.VerifiedAt, acc.VerifiedBy,
		acc.UpdatedAt, acc.TwoFactorLastStep,
	)
	return translate("update account", err)
}

func scanAccount(row pgx.Row) (*charityauth.Account, error) {
	var (
		acc     charityauth.Account
		roles   []string
		status  string
		method  string
		codes   []twofactor.BackupCode
		trusted []string
	)
	err := row.Scan(
		&acc.ID, &acc.Email, &acc.Phone, &acc.Username, &acc.PasswordHash, &roles, &status, &acc.IsActive,
		&acc.FailedLoginAttempts, &acc.LockedUntil,
		&acc.TwoFactorEnabled, &acc.TwoFactorSecret, &method, &codes,
		&trusted, &acc.RefreshToken, &acc.RefreshTokenExpires,
		&acc.PhoneVerified, &acc.LastLoginAt, &acc.LastLoginIP, &acc.VerifiedAt, &acc.VerifiedBy,
		&acc.CreatedAt, &acc.UpdatedAt, &acc.TwoFactorLastStep,
	)
	if err != nil {
		return nil, translate("load account", err)
	}

	acc.Roles = charityauth.RoleSetFromStrings(roles)
	acc.Status = charityauth.AccountStatus(status)
	acc.TwoFactorMethod = charityauth.TwoFactorMethod(method)
	acc.BackupCodes = codes
	for i := range acc.BackupCodes {
		acc.BackupCodes[i].UsedAt = utc(acc.BackupCodes[i].UsedAt)
	}
	if len(trusted) > 0 {
		acc.TrustedDevices = trusted
	}
	acc.LockedUntil = utc(acc.LockedUntil)
	acc.RefreshTokenExpires = utc(acc.RefreshTokenExpires)
	acc.LastLoginAt = utc(acc.LastLoginAt)
	acc.VerifiedAt = utc(acc.VerifiedAt)
	acc.CreatedAt = acc.CreatedAt.UTC()
	acc.UpdatedAt = acc.UpdatedAt.UTC()
	return &acc, nil
}

// translate maps driver errors onto store sentinels. Anything unrecognised is
// returned wrapped so the engine reports it as a backend failure.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return charityauth.ErrAccountNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return charityauth.ErrDuplicateAccount
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func strs(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func backupCodes(c []twofactor.BackupCode) []twofactor.BackupCode {
	if c == nil {
		return []twofactor.BackupCode{}
	}
	return c
}
