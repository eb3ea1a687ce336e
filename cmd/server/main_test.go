package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNextRun_MonthlyClampsWithoutDrift(t *testing.T) {
	// GIVEN: A schedule on the 31st
	// WHEN: Listing four runs from mid January 2024
	out, err := runCLI(t, "next-run", "--frequency", "monthly", "--day-of-month", "31",
		"--from", "2024-01-15T00:00:00Z", "--count", "4")

	// THEN: Runs start next month, February clamps to the 29th and March
	// is back on the 31st
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-02-29T09:00:00Z",
		"2024-03-31T09:00:00Z",
		"2024-04-30T09:00:00Z",
		"2024-05-31T09:00:00Z",
	}, strings.Fields(out))
}

func TestNextRun_Weekly(t *testing.T) {
	out, err := runCLI(t, "next-run", "--frequency", "weekly", "--day-of-week", "1", "--time", "08:30",
		"--from", "2024-04-10T12:00:00Z", "--count", "2")

	require.NoError(t, err)
	assert.Equal(t, []string{"2024-04-15T08:30:00Z", "2024-04-22T08:30:00Z"}, strings.Fields(out))
}

func TestNextRun_InvalidConfig(t *testing.T) {
	tests := [][]string{
		{"next-run", "--frequency", "hourly"},
		{"next-run", "--frequency", "weekly"},
		{"next-run", "--timezone", "Mars/Olympus"},
		{"next-run", "--from", "yesterday"},
	}
	for _, args := range tests {
		_, err := runCLI(t, args...)
		assert.Error(t, err, strings.Join(args, " "))
	}
}
