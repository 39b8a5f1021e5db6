package charityauth

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/charityauth/internal/flows"
)

func (e *Engine) reviewDeps() flows.ReviewDeps {
	return flows.ReviewDeps{
		Now:         e.now,
		LoadAccount: e.loadRecord,
		ValidDocType: func(t string) bool {
			return DocumentType(t).Valid()
		},
		AddDocuments: func(ctx context.Context, accountID string, in []flows.DocumentInput, now time.Time) error {
			docs := make([]VerificationDocument, 0, len(in))
			for _, d := range in {
				docs = append(docs, VerificationDocument{
					ID:          e.newID(),
					AccountID:   accountID,
					Type:        DocumentType(d.Type),
					Number:      d.Number,
					FileURL:     d.FileURL,
					Status:      DocumentPending,
					SubmittedAt: now,
				})
			}
			return storeError(e.store.AddDocuments(ctx, accountID, docs))
		},
		ReviewPending: func(ctx context.Context, in flows.ReviewInput, now time.Time) (flows.AccountRecord, int, error) {
			acc, n, err := e.store.ReviewPendingDocuments(ctx, in.AccountID, in.ReviewerID, in.Approve, in.Note, now)
			if err != nil {
				return flows.AccountRecord{}, 0, storeError(err)
			}
			return toRecord(acc), n, nil
		},
		NotifyAdmins: func(ctx context.Context, acc flows.AccountRecord, count int) error {
			return e.deliver(ctx, Notification{
				Kind:      NotifyVerificationSubmitted,
				Audience:  AudienceAdmins,
				AccountID: acc.ID,
				Email:     acc.Email,
				Phone:     acc.Phone,
				Data:      map[string]string{"documents": strconv.Itoa(count)},
			})
		},
		NotifyOutcome: func(ctx context.Context, acc flows.AccountRecord, approved bool, note string) error {
			kind := NotifyVerificationRejected
			if approved {
				kind = NotifyVerificationApproved
			}
			n := Notification{
				Kind:      kind,
				Audience:  AudienceAccount,
				AccountID: acc.ID,
				Email:     acc.Email,
				Phone:     acc.Phone,
			}
			if note != "" {
				n.Data = map[string]string{"note": note}
			}
			return e.deliver(ctx, n)
		},
		MetricInc: e.flowMetric,
		EmitAudit: e.flowAudit,
		Warn:      e.warn,
		Metrics: flows.ReviewMetrics{
			Submitted: int(MetricVerificationSubmitted),
			Approved:  int(MetricVerificationApproved),
			Rejected:  int(MetricVerificationRejected),
		},
		Events: flows.ReviewEvents{
			Submitted: auditEventDocumentsSubmitted,
			Approved:  auditEventVerificationApproved,
			Rejected:  auditEventVerificationRejected,
		},
		Errors: flows.ReviewErrors{
			EngineNotReady:          ErrEngineNotReady,
			InvalidStatusTransition: ErrInvalidStatusTransition,
			InvalidInput:            ErrInvalidInput,
		},
	}
}

// SubmitVerificationDocuments stores a PENDING batch for accountID and moves
// the account to NEED_VERIFICATION. A rejected account resubmits with the
// same call.
func (e *Engine) SubmitVerificationDocuments(ctx context.Context, accountID string, docs []DocumentInput) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	in := make([]flows.DocumentInput, 0, len(docs))
	for _, d := range docs {
		in = append(in, flows.DocumentInput{Type: string(d.Type), Number: d.Number, FileURL: d.FileURL})
	}
	return flows.RunSubmitDocuments(ctx, accountID, in, e.reviewDeps())
}

// ReviewVerification approves or rejects every pending document of an
// account at once. Approval activates the account; rejection sets REJECTED.
// Callers are responsible for checking that the reviewer is an administrator.
func (e *Engine) ReviewVerification(ctx context.Context, in ReviewInput) (*ReviewResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunReview(ctx, flows.ReviewInput{
		AccountID:  in.AccountID,
		ReviewerID: in.ReviewerID,
		Approve:    in.Approve,
		Note:       in.Note,
	}, e.reviewDeps())
	if err != nil {
		return nil, err
	}
	return &ReviewResult{AccountID: res.AccountID, Status: AccountStatus(res.Status), Reviewed: res.Reviewed}, nil
}

func (e *Engine) PendingDocuments(ctx context.Context, accountID string) ([]VerificationDocument, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	docs, err := e.store.PendingDocuments(ctx, accountID)
	return docs, storeError(err)
}

// ListPendingVerifications returns accounts awaiting review, oldest first.
func (e *Engine) ListPendingVerifications(ctx context.Context, limit int) ([]*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	accs, err := e.store.ListPendingVerifications(ctx, limit)
	return accs, storeError(err)
}
