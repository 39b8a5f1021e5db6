package charityauth

import (
	"context"
	"strconv"
	"strings"

	"github.com/MrEthical07/charityauth/otp"
	"github.com/MrEthical07/charityauth/password"
)

const bulkPasswordLength = 12

// BulkCreateAccounts creates admin-provisioned accounts with generated
// passwords. Rows fail independently; the returned slice has one entry per
// input row. When notify is set each created account is told its temporary
// password through the Notifier.
func (e *Engine) BulkCreateAccounts(ctx context.Context, role Role, rows []BulkAccountInput, notify bool) ([]BulkAccountResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if !role.Valid() || role == RoleSuperAdmin {
		return nil, ErrRoleNotAllowed
	}

	results := make([]BulkAccountResult, 0, len(rows))
	created := 0
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := BulkAccountResult{
			Index: i,
			Email: strings.ToLower(strings.TrimSpace(row.Email)),
			Phone: otp.Normalize(row.Phone),
		}
		res.AccountID, res.Password, res.Err = e.createProvisioned(ctx, role, res.Email, res.Phone, row.Username)
		if res.Err == nil {
			created++
			if notify {
				e.notify(ctx, Notification{
					Kind:      NotifyAccountCreated,
					Audience:  AudienceAccount,
					AccountID: res.AccountID,
					Email:     res.Email,
					Phone:     res.Phone,
					Data: map[string]string{
						"role":               string(role),
						"temporary_password": res.Password,
					},
				})
			}
		}
		results = append(results, res)
	}

	for i := 0; i < created; i++ {
		e.metricInc(MetricBulkAccountsCreated)
	}
	e.emitAudit(ctx, auditEventBulkCreate, true, "", nil, func() map[string]string {
		return map[string]string{
			"role":    string(role),
			"rows":    strconv.Itoa(len(rows)),
			"created": strconv.Itoa(created),
		}
	})
	return results, nil
}

func (e *Engine) createProvisioned(ctx context.Context, role Role, email, phone, username string) (string, string, error) {
	if email == "" && phone == "" {
		return "", "", ErrInvalidInput
	}
	dup, err := e.isDuplicate(ctx, email, phone)
	if err != nil {
		return "", "", err
	}
	if dup {
		return "", "", ErrDuplicateAccount
	}

	plain, err := password.Generate(bulkPasswordLength)
	if err != nil {
		return "", "", err
	}
	hash, err := e.hashPassword(ctx, plain)
	if err != nil {
		return "", "", err
	}

	now := e.now()
	acc := &Account{
		ID:           e.newID(),
		Email:        email,
		Phone:        phone,
		Username:     strings.TrimSpace(username),
		PasswordHash: hash,
		Roles:        RoleSet{role},
		Status:       StatusActive,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.Create(ctx, acc); err != nil {
		return "", "", storeError(err)
	}
	return acc.ID, plain, nil
}

// SetAccountStatus changes an account status outside the document workflow.
// Suspension is allowed from any status and signs the account out; a
// suspended or pending account can be activated; a pending account can be
// rejected.
func (e *Engine) SetAccountStatus(ctx context.Context, accountID string, status AccountStatus, actorID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	var from AccountStatus
	_, err := e.store.Update(ctx, accountID, func(a *Account) error {
		from = a.Status
		if !statusTransitionAllowed(a.Status, status) {
			return ErrInvalidStatusTransition
		}
		a.Status = status
		if status == StatusSuspended {
			a.RefreshToken = ""
			a.RefreshTokenExpires = nil
		}
		a.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		err = storeError(err)
		e.emitAudit(ctx, auditEventAccountStatusChange, false, accountID, err, nil)
		return err
	}

	e.emitAudit(ctx, auditEventAccountStatusChange, true, accountID, nil, func() map[string]string {
		return map[string]string{
			"from":     string(from),
			"to":       string(status),
			"actor_id": actorID,
		}
	})
	return nil
}

func statusTransitionAllowed(from, to AccountStatus) bool {
	if from == to {
		return false
	}
	switch to {
	case StatusSuspended:
		return true
	case StatusActive:
		return from == StatusSuspended || from == StatusPending
	case StatusRejected:
		return from == StatusPending
	default:
		return false
	}
}

// SetAccountActive toggles the soft-disable flag. Disabling signs the account
// out.
func (e *Engine) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.store.Update(ctx, accountID, func(a *Account) error {
		a.IsActive = active
		if !active {
			a.RefreshToken = ""
			a.RefreshTokenExpires = nil
		}
		a.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return storeError(err)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, true, accountID, nil, func() map[string]string {
		if active {
			return map[string]string{"active": "true"}
		}
		return map[string]string{"active": "false"}
	})
	return nil
}

// GetAccount returns a copy of the stored account.
func (e *Engine) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	acc, err := e.store.GetByID(ctx, accountID)
	if err != nil {
		return nil, storeError(err)
	}
	return acc, nil
}
