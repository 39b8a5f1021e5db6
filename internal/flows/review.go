package flows

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DocumentInput is one document in a submitted batch.
type DocumentInput struct {
	Type    string
	Number  string
	FileURL string
}

type ReviewInput struct {
	AccountID  string
	ReviewerID string
	Approve    bool
	Note       string
}

type ReviewResult struct {
	AccountID string
	Status    string
	Reviewed  int
}

type ReviewMetrics struct {
	Submitted int
	Approved  int
	Rejected  int
}

type ReviewEvents struct {
	Submitted string
	Approved  string
	Rejected  string
}

type ReviewErrors struct {
	EngineNotReady          error
	InvalidStatusTransition error
	InvalidInput            error
}

// ReviewDeps captures the verification workflow dependencies.
type ReviewDeps struct {
	Now func() time.Time

	LoadAccount  func(ctx context.Context, accountID string) (AccountRecord, error)
	ValidDocType func(docType string) bool
	// AddDocuments stores a PENDING batch and moves the account to
	// NEED_VERIFICATION in one update.
	AddDocuments func(ctx context.Context, accountID string, docs []DocumentInput, now time.Time) error
	// ReviewPending flips every PENDING document and the account status in
	// one update and returns how many documents were reviewed.
	ReviewPending func(ctx context.Context, in ReviewInput, now time.Time) (AccountRecord, int, error)
	NotifyAdmins  func(ctx context.Context, acc AccountRecord, count int) error
	NotifyOutcome func(ctx context.Context, acc AccountRecord, approved bool, note string) error
	MetricInc     func(int)
	EmitAudit     AuditFunc
	Warn          func(string, ...any)

	Metrics ReviewMetrics
	Events  ReviewEvents
	Errors  ReviewErrors
}

// RunSubmitDocuments records a new PENDING batch. A rejected account uses the
// same call to resubmit. Suspended accounts cannot submit.
func RunSubmitDocuments(ctx context.Context, accountID string, docs []DocumentInput, deps ReviewDeps) error {
	deps = normalizeReviewDeps(deps)
	if deps.LoadAccount == nil || deps.AddDocuments == nil {
		return deps.Errors.EngineNotReady
	}
	if len(docs) == 0 {
		return deps.Errors.InvalidInput
	}
	for _, d := range docs {
		if strings.TrimSpace(d.FileURL) == "" || (deps.ValidDocType != nil && !deps.ValidDocType(d.Type)) {
			return deps.Errors.InvalidInput
		}
	}

	acc, err := deps.LoadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.Status == StatusSuspended || !acc.Active {
		return deps.Errors.InvalidStatusTransition
	}

	if err := deps.AddDocuments(ctx, acc.ID, docs, deps.Now()); err != nil {
		return err
	}
	acc.Status = StatusNeedVerification

	if deps.NotifyAdmins != nil {
		if err := deps.NotifyAdmins(ctx, acc, len(docs)); err != nil {
			deps.Warn("verification submission notification failed", "account_id", acc.ID, "error", err)
		}
	}

	deps.MetricInc(deps.Metrics.Submitted)
	deps.EmitAudit(ctx, deps.Events.Submitted, true, acc.ID, nil, nil)
	return nil
}

// RunReview approves or rejects every pending document of one account
// together.
func RunReview(ctx context.Context, in ReviewInput, deps ReviewDeps) (ReviewResult, error) {
	deps = normalizeReviewDeps(deps)
	if deps.ReviewPending == nil {
		return ReviewResult{}, deps.Errors.EngineNotReady
	}
	if strings.TrimSpace(in.AccountID) == "" || strings.TrimSpace(in.ReviewerID) == "" {
		return ReviewResult{}, deps.Errors.InvalidInput
	}

	acc, n, err := deps.ReviewPending(ctx, in, deps.Now())
	if err != nil {
		return ReviewResult{}, err
	}

	if deps.NotifyOutcome != nil {
		if err := deps.NotifyOutcome(ctx, acc, in.Approve, in.Note); err != nil {
			deps.Warn("verification outcome notification failed", "account_id", acc.ID, "error", err)
		}
	}

	event, metric := deps.Events.Rejected, deps.Metrics.Rejected
	if in.Approve {
		event, metric = deps.Events.Approved, deps.Metrics.Approved
	}
	deps.MetricInc(metric)
	deps.EmitAudit(ctx, event, true, acc.ID, nil, func() map[string]string {
		return map[string]string{"reviewer_id": in.ReviewerID}
	})

	return ReviewResult{AccountID: acc.ID, Status: acc.Status, Reviewed: n}, nil
}

func normalizeReviewDeps(deps ReviewDeps) ReviewDeps {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not initialized")
	}
	if deps.Errors.InvalidInput == nil {
		deps.Errors.InvalidInput = errors.New("invalid verification request")
	}
	if deps.Errors.InvalidStatusTransition == nil {
		deps.Errors.InvalidStatusTransition = errors.New("invalid status transition")
	}
	return deps
}
