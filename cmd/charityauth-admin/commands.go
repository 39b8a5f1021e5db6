package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MrEthical07/charityauth"
)

func bulkCreate(ctx context.Context, engine *charityauth.Engine, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("bulk-create", flag.ContinueOnError)
	role := fs.String("role", "", "role for every row")
	file := fs.String("file", "", "CSV file with email,phone,username columns")
	sendNotice := fs.Bool("notify", true, "send account-created notifications")
	if err := fs.Parse(args); err != nil {
		return err
	}

	parsedRole, err := charityauth.ParseRole(*role)
	if err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file required")
	}
	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := parseBulkCSV(f)
	if err != nil {
		return err
	}

	results, err := engine.BulkCreateAccounts(ctx, parsedRole, rows, *sendNotice)
	if err != nil {
		return err
	}
	return writeBulkResults(out, results)
}

// parseBulkCSV reads email,phone,username rows. A header row is skipped when
// its first cell is "email".
func parseBulkCSV(r io.Reader) ([]charityauth.BulkAccountInput, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []charityauth.BulkAccountInput
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "email") {
			continue
		}
		if len(rec) > 3 {
			return nil, fmt.Errorf("line %d: expected at most 3 columns, got %d", line, len(rec))
		}
		var row charityauth.BulkAccountInput
		if len(rec) > 0 {
			row.Email = strings.TrimSpace(rec[0])
		}
		if len(rec) > 1 {
			row.Phone = strings.TrimSpace(rec[1])
		}
		if len(rec) > 2 {
			row.Username = strings.TrimSpace(rec[2])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func writeBulkResults(out io.Writer, results []charityauth.BulkAccountResult) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tACCOUNT\tEMAIL\tPHONE\tPASSWORD\tERROR")
	failed := 0
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
			failed++
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.Index+1, r.AccountID, r.Email, r.Phone, r.Password, errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rows failed", failed, len(results))
	}
	return nil
}

func listPending(ctx context.Context, engine *charityauth.Engine, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum accounts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	accounts, err := engine.ListPendingVerifications(ctx, *limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tEMAIL\tPHONE\tROLES\tDOCUMENTS\tOLDEST")
	for _, acc := range accounts {
		docs, err := engine.PendingDocuments(ctx, acc.ID)
		if err != nil {
			return err
		}
		var oldest time.Time
		types := make([]string, 0, len(docs))
		for _, d := range docs {
			types = append(types, string(d.Type))
			if oldest.IsZero() || d.SubmittedAt.Before(oldest) {
				oldest = d.SubmittedAt
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", acc.ID, acc.Email, acc.Phone,
			strings.Join(acc.Roles.Strings(), ","), strings.Join(types, ","), oldest.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func review(ctx context.Context, engine *charityauth.Engine, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	account := fs.String("account", "", "account id")
	reviewer := fs.String("reviewer", "", "reviewing administrator id")
	approve := fs.Bool("approve", false, "approve pending documents")
	reject := fs.Bool("reject", false, "reject pending documents")
	note := fs.String("note", "", "note sent to the applicant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *approve == *reject {
		return errors.New("exactly one of -approve or -reject required")
	}

	res, err := engine.ReviewVerification(ctx, charityauth.ReviewInput{
		AccountID:  *account,
		ReviewerID: *reviewer,
		Approve:    *approve,
		Note:       *note,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s (%d documents)\n", res.AccountID, res.Status, res.Reviewed)
	return nil
}

func setStatus(ctx context.Context, engine *charityauth.Engine, args []string) error {
	fs := flag.NewFlagSet("set-status", flag.ContinueOnError)
	account := fs.String("account", "", "account id")
	status := fs.String("status", "", "ACTIVE, SUSPENDED or REJECTED")
	actor := fs.String("actor", "", "administrator id recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return engine.SetAccountStatus(ctx, *account, charityauth.AccountStatus(strings.ToUpper(strings.TrimSpace(*status))), *actor)
}

func setActive(ctx context.Context, engine *charityauth.Engine, args []string) error {
	fs := flag.NewFlagSet("set-active", flag.ContinueOnError)
	account := fs.String("account", "", "account id")
	active := fs.Bool("active", true, "soft-enable or soft-disable the account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return engine.SetAccountActive(ctx, *account, *active)
}

func printPosture(out io.Writer, r charityauth.SecurityReport) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"signing algorithm", r.SigningAlgorithm},
		{"access ttl", r.AccessTTL.String()},
		{"refresh ttl", r.RefreshTTL.String()},
		{"argon2", fmt.Sprintf("m=%d t=%d p=%d", r.Argon2.Memory, r.Argon2.Time, r.Argon2.Parallelism)},
		{"legacy bcrypt accepted", fmt.Sprint(r.LegacyBcryptAccepted)},
		{"lockout", fmt.Sprintf("%v (%d failures, %s)", r.LockoutActive, r.LockoutThreshold, r.LockoutDuration)},
		{"otp", fmt.Sprintf("ttl=%s attempts=%d throttled=%v", r.OTPTTL, r.OTPMaxAttempts, r.OTPThrottleActive)},
		{"two-factor throttled", fmt.Sprint(r.TwoFactorThrottled)},
		{"backup codes", fmt.Sprint(r.BackupEnabled)},
		{"device trust", fmt.Sprint(r.DeviceTrustEnabled)},
		{"captcha", fmt.Sprint(r.CaptchaEnabled)},
		{"fraud scoring", fmt.Sprint(r.FraudScoringEnabled)},
		{"registration throttled", fmt.Sprint(r.RegistrationThrottled)},
		{"audit", fmt.Sprint(r.AuditEnabled)},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(tw, "WARNING\t%s\n", w)
	}
	return tw.Flush()
}
