package charityauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func needyDocs() []DocumentInput {
	return []DocumentInput{
		{Type: DocumentNationalID, Number: "ID-1234", FileURL: "https://files.example.org/id.png"},
		{Type: DocumentLetterOfRequest, FileURL: "https://files.example.org/letter.pdf"},
	}
}

func TestVerificationApproveActivatesAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := env.register(t, "needy@example.org", "", RoleNeedy)

	out, err := env.login("needy@example.org", testPassword, "")
	if err != nil || !out.RequiresVerification() {
		t.Fatalf("expected verification outcome before review, got %+v err=%v", out, err)
	}

	if err := env.engine.SubmitVerificationDocuments(ctx, reg.AccountID, needyDocs()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	docs, err := env.engine.PendingDocuments(ctx, reg.AccountID)
	if err != nil || len(docs) != 2 {
		t.Fatalf("expected two pending documents, got %d err=%v", len(docs), err)
	}
	if !env.notifier.has(NotifyVerificationSubmitted) {
		t.Fatal("expected admins to be notified")
	}

	res, err := env.engine.ReviewVerification(ctx, ReviewInput{AccountID: reg.AccountID, ReviewerID: "admin-1", Approve: true})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if res.Status != StatusActive || res.Reviewed != 2 {
		t.Fatalf("unexpected review result: %+v", res)
	}

	acc := env.account(t, reg.AccountID)
	if acc.VerifiedBy != "admin-1" || acc.VerifiedAt == nil {
		t.Fatalf("expected reviewer to be recorded, got %+v", acc)
	}
	if !env.notifier.has(NotifyVerificationApproved) {
		t.Fatal("expected approval notification")
	}

	out, err = env.login("needy@example.org", testPassword, "")
	if err != nil || out.Kind != OutcomeSuccess {
		t.Fatalf("expected tokens after approval, got %+v err=%v", out, err)
	}

	if _, err := env.engine.ReviewVerification(ctx, ReviewInput{AccountID: reg.AccountID, ReviewerID: "admin-1", Approve: true}); !errors.Is(err, ErrNoPendingDocuments) {
		t.Fatalf("expected nothing left to review, got %v", err)
	}
}

func TestVerificationRejectAndResubmit(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := env.register(t, "vendor@example.org", "", RoleVendor)

	if err := env.engine.SubmitVerificationDocuments(ctx, reg.AccountID, []DocumentInput{
		{Type: DocumentBusinessLicense, Number: "BL-77", FileURL: "https://files.example.org/bl.pdf"},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := env.engine.ReviewVerification(ctx, ReviewInput{AccountID: reg.AccountID, ReviewerID: "admin-2", Note: "blurry scan"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if res.Status != StatusRejected {
		t.Fatalf("expected REJECTED, got %s", res.Status)
	}

	var rejected *Notification
	for _, n := range env.notifier.sent {
		if n.Kind == NotifyVerificationRejected {
			n := n
			rejected = &n
		}
	}
	if rejected == nil || rejected.Data["note"] != "blurry scan" {
		t.Fatalf("expected rejection notice with note, got %+v", rejected)
	}

	if err := env.engine.SubmitVerificationDocuments(ctx, reg.AccountID, []DocumentInput{
		{Type: DocumentBusinessLicense, Number: "BL-77", FileURL: "https://files.example.org/bl-2.pdf"},
	}); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if got := env.account(t, reg.AccountID).Status; got != StatusNeedVerification {
		t.Fatalf("expected NEED_VERIFICATION after resubmission, got %s", got)
	}
}

func TestVerificationRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := env.register(t, "bad@example.org", "", RoleNeedy)

	if err := env.engine.SubmitVerificationDocuments(ctx, reg.AccountID, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty batch to fail, got %v", err)
	}
	if err := env.engine.SubmitVerificationDocuments(ctx, reg.AccountID, []DocumentInput{{Type: "selfie", FileURL: "x"}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown type to fail, got %v", err)
	}
	if _, err := env.engine.ReviewVerification(ctx, ReviewInput{AccountID: reg.AccountID}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected missing reviewer to fail, got %v", err)
	}

	if err := env.engine.SetAccountStatus(ctx, reg.AccountID, StatusSuspended, "admin-1"); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if err := env.engine.SubmitVerificationDocuments(ctx, reg.AccountID, needyDocs()); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected suspended account to be refused, got %v", err)
	}
}

func TestListPendingVerificationsOldestFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var ids []string
	for _, email := range []string{"first@example.org", "second@example.org", "third@example.org"} {
		reg := env.register(t, email, "", RoleNeedy)
		if err := env.engine.SubmitVerificationDocuments(ctx, reg.AccountID, needyDocs()); err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, reg.AccountID)
		env.clock.Advance(time.Minute)
	}

	list, err := env.engine.ListPendingVerifications(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != ids[0] || list[1].ID != ids[1] {
		t.Fatalf("unexpected order: %+v", list)
	}
}
