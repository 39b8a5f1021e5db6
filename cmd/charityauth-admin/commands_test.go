package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/charityauth"
)

func TestParseBulkCSV(t *testing.T) {
	in := strings.NewReader("email,phone,username\n" +
		"a@example.org, +15550100001 ,alice\n" +
		",+15550100002\n" +
		"c@example.org\n")

	rows, err := parseBulkCSV(in)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, charityauth.BulkAccountInput{Email: "a@example.org", Phone: "+15550100001", Username: "alice"}, rows[0])
	assert.Equal(t, "+15550100002", rows[1].Phone)
	assert.Empty(t, rows[1].Email)
	assert.Equal(t, "c@example.org", rows[2].Email)
}

func TestParseBulkCSVRejectsExtraColumns(t *testing.T) {
	_, err := parseBulkCSV(strings.NewReader("a@example.org,+1555,al,extra\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestWriteBulkResultsReportsFailures(t *testing.T) {
	var buf bytes.Buffer
	err := writeBulkResults(&buf, []charityauth.BulkAccountResult{
		{Index: 0, AccountID: "acc-1", Email: "a@example.org", Password: "Xy7!abcdefgh"},
		{Index: 1, Email: "a@example.org", Err: charityauth.ErrDuplicateAccount},
	})
	require.Error(t, err)
	assert.Equal(t, "1 of 2 rows failed", err.Error())
	assert.Contains(t, buf.String(), "acc-1")
	assert.Contains(t, buf.String(), charityauth.ErrDuplicateAccount.Error())

	buf.Reset()
	require.NoError(t, writeBulkResults(&buf, nil))
	assert.True(t, strings.HasPrefix(buf.String(), "ROW"))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, splitList(" k1:9092, ,k2:9092 "))
	assert.Nil(t, splitList(""))
}

func TestReviewRequiresOneDecision(t *testing.T) {
	err := review(context.Background(), nil, &bytes.Buffer{}, []string{"-account", "acc-1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, charityauth.ErrInvalidInput))
	assert.Contains(t, err.Error(), "exactly one")
}

func TestPrintPostureListsWarnings(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printPosture(&buf, charityauth.SecurityReport{
		SigningAlgorithm: "ed25519",
		Warnings:         []string{"account lockout disabled"},
	}))
	assert.Contains(t, buf.String(), "ed25519")
	assert.Regexp(t, `(?m)^WARNING +account lockout disabled$`, buf.String())
}
