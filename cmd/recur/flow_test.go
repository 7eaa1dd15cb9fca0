package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Veraticus/the-spice-must-recur/internal/testutil"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recurEnv runs commands against a throwaway home directory and database.
type recurEnv struct {
	t      *testing.T
	dbPath string
	user   string
}

func newRecurEnv(t *testing.T) *recurEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return &recurEnv{
		t:      t,
		dbPath: filepath.Join(home, "data", "recur.db"),
		user:   "alice",
	}
}

func (e *recurEnv) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	viper.Reset()
	e.t.Cleanup(viper.Reset)

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--db", e.dbPath, "--user", e.user, "--log-level", "error"}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *recurEnv) mustRun(stdin string, args ...string) string {
	e.t.Helper()
	out, err := e.run(stdin, args...)
	require.NoError(e.t, err, out)
	return out
}

func writeRecords(t *testing.T, dir string) string {
	t.Helper()
	records := testutil.NewHistory("NETFLIX.COM").Every(30, 5).Amounts("15.49").Records()
	data, err := json.Marshal(records)
	require.NoError(t, err)
	path := filepath.Join(dir, "records.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestFlow_ScanReviewRenewCancel(t *testing.T) {
	env := newRecurEnv(t)
	recordsPath := writeRecords(t, t.TempDir())

	out := env.mustRun("", "scan", "--no-progress", recordsPath)
	assert.Contains(t, out, "Scan complete")
	assert.Contains(t, out, "recur review")

	out = env.mustRun("", "scan", "--json", recordsPath)
	var report struct {
		Received int `json:"received"`
		Skipped  int `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 5, report.Received)
	assert.Equal(t, 5, report.Skipped)

	out = env.mustRun("", "candidates", "list", "--json")
	var candidates []candidateRecord
	require.NoError(t, json.Unmarshal([]byte(out), &candidates))
	require.Len(t, candidates, 1)
	assert.Equal(t, "Netflix", candidates[0].ProposedName)
	assert.Equal(t, "monthly", candidates[0].ProposedCadence)
	assert.Len(t, candidates[0].SupportingEventIDs, 5)

	out = env.mustRun("", "candidates", "accept", candidates[0].ID, "--name", "Netflix Premium")
	assert.Contains(t, out, "Tracking Netflix Premium")

	_, err := env.run("", "candidates", "dismiss", candidates[0].ID)
	require.Error(t, err, "accepted candidates cannot be dismissed")

	out = env.mustRun("", "audit")
	assert.Contains(t, out, "candidate.accepted")
	assert.Contains(t, out, "Netflix Premium")

	// The history ends in 2024, so the renewal is overdue.
	out = env.mustRun("", "sweep")
	assert.Contains(t, out, "1 newly flagged")

	out = env.mustRun("", "subscriptions", "due")
	assert.Contains(t, out, "Netflix Premium")

	subID := subscriptionID(t, env)

	out = env.mustRun("renewed\n", "subscriptions", "confirm", subID, "--cost", "17.99")
	assert.Contains(t, out, "Renewed Netflix Premium")
	assert.Contains(t, out, "Price changed")

	out = env.mustRun("", "subscriptions", "history", subID)
	assert.Contains(t, out, "17.99")

	env.mustRun("", "sweep")
	out = env.mustRun("", "subscriptions", "confirm", subID, "cancelled")
	assert.Contains(t, out, "Cancelled Netflix Premium")
	assert.Contains(t, out, "Saving")

	out = env.mustRun("", "savings", "--json")
	var summary struct {
		Cancelled int `json:"cancelled"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 1, summary.Cancelled)

	out = env.mustRun("", "export", "--to", "json")
	var exportReport struct {
		Subscriptions []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"subscriptions"`
		PriceChanges []struct {
			Subscription string `json:"subscription"`
			NewPrice     string `json:"new_price"`
		} `json:"price_changes"`
		Savings []struct {
			Currency  string `json:"currency"`
			Cancelled int    `json:"cancelled"`
		} `json:"savings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &exportReport))
	require.Len(t, exportReport.Subscriptions, 1)
	assert.Equal(t, "Netflix Premium", exportReport.Subscriptions[0].Name)
	assert.Equal(t, "cancelled", exportReport.Subscriptions[0].Status)
	require.Len(t, exportReport.PriceChanges, 1)
	assert.Equal(t, "17.99", exportReport.PriceChanges[0].NewPrice)
	require.Len(t, exportReport.Savings, 1)
	assert.Equal(t, 1, exportReport.Savings[0].Cancelled)

	out = env.mustRun("", "subscriptions", "list")
	assert.Contains(t, out, "No subscriptions")
	out = env.mustRun("", "subscriptions", "list", "--all")
	assert.Contains(t, out, "cancelled")
}

// subscriptionID pulls the single subscription ID out of the due listing.
func subscriptionID(t *testing.T, env *recurEnv) string {
	t.Helper()
	a, err := func() (*app, error) {
		viper.Reset()
		viper.Set("database.path", env.dbPath)
		viper.Set("user.id", env.user)
		return openApp(context.Background())
	}()
	require.NoError(t, err)
	defer closeApp(a)

	subs, err := a.tracker.NeedsConfirmation(context.Background(), env.user)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	return subs[0].ID
}

func TestFlow_Errors(t *testing.T) {
	env := newRecurEnv(t)

	tests := []struct {
		name          string
		errorContains string
		args          []string
	}{
		{
			name:          "scan without files",
			args:          []string{"scan"},
			errorContains: "no input files",
		},
		{
			name:          "scan unknown source",
			args:          []string{"scan", "--source", "fax"},
			errorContains: "unknown source",
		},
		{
			name:          "scan missing file",
			args:          []string{"scan", "does-not-exist.json"},
			errorContains: "does-not-exist.json",
		},
		{
			name:          "unknown candidate status",
			args:          []string{"candidates", "list", "--status", "maybe"},
			errorContains: "unknown status",
		},
		{
			name:          "invalid override cadence",
			args:          []string{"candidates", "accept", "abc", "--cadence", "fortnightly"},
			errorContains: "invalid cadence",
		},
		{
			name:          "unknown renewal action",
			args:          []string{"subscriptions", "confirm", "abc", "paused"},
			errorContains: "unknown action",
		},
		{
			name:          "scan simplefin without access",
			args:          []string{"scan", "--source", "simplefin"},
			errorContains: "SimpleFIN is not ready",
		},
		{
			name:          "simplefin source with files",
			args:          []string{"scan", "--source", "simplefin", "records.json"},
			errorContains: "does not take file arguments",
		},
		{
			name:          "simplefin auth without token",
			args:          []string{"auth", "simplefin"},
			errorContains: "no SimpleFIN setup token",
		},
		{
			name:          "unknown export target",
			args:          []string{"export", "--to", "csv"},
			errorContains: "unknown export target",
		},
		{
			name:          "export to unconfigured sheets",
			args:          []string{"export", "--to", "sheets"},
			errorContains: "Google Sheets is not configured",
		},
		{
			name:          "invalid savings date",
			args:          []string{"savings", "--since", "01/02/2024"},
			errorContains: "invalid date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run("", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestFlow_Duplicates(t *testing.T) {
	env := newRecurEnv(t)
	dir := t.TempDir()

	records := testutil.NewHistory("HULU").Every(30, 3).Amounts("7.99").Records()
	dup := records[1]
	dup.RawIdentifier = "txn-dup"
	records = append(records, dup)

	data, err := json.Marshal(records)
	require.NoError(t, err)
	path := filepath.Join(dir, "records.json")
	require.NoError(t, os.WriteFile(path, data, 0600))

	env.mustRun("", "scan", "--no-progress", path)

	out := env.mustRun("", "duplicates")
	assert.Contains(t, out, "1 possible duplicate charges")
	assert.Contains(t, out, "txn-dup")
}

func TestFlow_Snapshots(t *testing.T) {
	env := newRecurEnv(t)

	out := env.mustRun("", "migrate", "--status")
	assert.Contains(t, out, "Latest version")

	out = env.mustRun("", "snapshot", "create", "--tag", "before-import", "-d", "first")
	assert.Contains(t, out, "before-import")

	_, err := env.run("", "snapshot", "create", "--tag", "before-import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out = env.mustRun("", "snapshot", "list")
	assert.Contains(t, out, "before-import")
	assert.Contains(t, out, "manual")

	out = env.mustRun("n\n", "snapshot", "delete", "before-import")
	assert.Contains(t, out, "Deletion cancelled")

	out = env.mustRun("y\n", "snapshot", "delete", "before-import")
	assert.Contains(t, out, "Deleted snapshot")

	out = env.mustRun("", "snapshot", "list")
	assert.Contains(t, out, "No snapshots found")
}

func TestVersionCmd(t *testing.T) {
	env := newRecurEnv(t)
	out := env.mustRun("", "version")
	assert.Equal(t, "recur version dev\n", out)
}
