package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBundle = `customers:
  - name: AmerescoFTP
    organization_id: org-1
rules:
  - name: Riders are usage
    scope: global
    classification: ch.usage_charge
    priority: 10
    conditions:
      - {field: charge_name, operator: contains, value: Rider}
charges:
  - {id: c1, customer: AmerescoFTP, charge_name: CHP Rider, statement_date: "2024-03-01"}
  - {id: c2, customer: AmerescoFTP, charge_name: Meter Fee}
  - {id: c3, customer: AmerescoFTP, charge_name: Solar Rider}
`

type cliEnv struct {
	t  *testing.T
	db string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := &cliEnv{t: t, db: filepath.Join(dir, "chargemap.db")}

	bundle := filepath.Join(dir, "bundle.yaml")
	require.NoError(t, os.WriteFile(bundle, []byte(testBundle), 0600))

	out, err := env.run("", "seed", bundle)
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 1 customers (0 already present), 1 rules, 3 charges")
	return env
}

// run executes the root command against the env's database with stdin as input.
func (e *cliEnv) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--db", e.db, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

var chpDraftArgs = []string{
	"-c", "AmerescoFTP",
	"--classification", "NewBatch",
	"--when", "charge_name:exactly_matches:CHP Rider",
	"--priority", "5",
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    model.MatchCondition
		wantErr bool
	}{
		{
			name:  "simple",
			input: "charge_name:contains:Rider",
			want:  model.MatchCondition{Field: model.FieldChargeName, Operator: model.OpContains, Value: "Rider"},
		},
		{
			name:  "value keeps colons",
			input: "charge_name:regex:^Rate: [A-Z]+$",
			want:  model.MatchCondition{Field: model.FieldChargeName, Operator: model.OpRegex, Value: "^Rate: [A-Z]+$"},
		},
		{
			name:  "field and operator are trimmed",
			input: " provider_name : starts_with :Duke",
			want:  model.MatchCondition{Field: model.FieldProviderName, Operator: model.OpStartsWith, Value: "Duke"},
		},
		{name: "missing value", input: "charge_name:contains", wantErr: true},
		{name: "unknown field", input: "vendor:contains:x", wantErr: true},
		{name: "unknown operator", input: "charge_name:like:x", wantErr: true},
		{name: "bad regex", input: "charge_name:regex:([", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCondition(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDraftFromFlags(t *testing.T) {
	t.Run("custom", func(t *testing.T) {
		cmd := previewCmd()
		require.NoError(t, cmd.ParseFlags(chpDraftArgs))

		draft, err := draftFromFlags(cmd, "AmerescoFTP")
		require.NoError(t, err)
		assert.Equal(t, model.ScopeCustom, draft.Scope)
		assert.Equal(t, "AmerescoFTP", draft.CustomerName)
		assert.Equal(t, "NewBatch", draft.Classification)
		assert.Equal(t, 5, draft.Priority)
		require.Len(t, draft.Conditions, 1)
		assert.Equal(t, "CHP Rider", draft.Conditions[0].Value)
	})

	t.Run("global drops customer", func(t *testing.T) {
		cmd := previewCmd()
		require.NoError(t, cmd.ParseFlags(append([]string{"--global"}, chpDraftArgs...)))

		draft, err := draftFromFlags(cmd, "AmerescoFTP")
		require.NoError(t, err)
		assert.Equal(t, model.ScopeGlobal, draft.Scope)
		assert.Empty(t, draft.CustomerName)
	})
}

func TestRuleTargetFromFlags(t *testing.T) {
	cmd := previewCmd()
	require.NoError(t, cmd.ParseFlags([]string{"-c", "AmerescoFTP"}))
	_, err := ruleTargetFromFlags(cmd, "AmerescoFTP")
	require.ErrorIs(t, err, common.ErrValidation)

	cmd = previewCmd()
	require.NoError(t, cmd.ParseFlags(append([]string{"--rule", "3"}, chpDraftArgs...)))
	_, err = ruleTargetFromFlags(cmd, "AmerescoFTP")
	require.ErrorIs(t, err, common.ErrValidation)

	cmd = previewCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--rule", "3"}))
	target, err := ruleTargetFromFlags(cmd, "AmerescoFTP")
	require.NoError(t, err)
	assert.Equal(t, int64(3), target.ruleID)
}

func TestCLI_PreviewApplyRecategorize(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("", append([]string{"preview"}, chpDraftArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "c1")
	assert.NotContains(t, out, "c3")
	assert.Contains(t, out, "1 charge(s) would change")

	// A preview saves nothing; only the seeded global rule exists.
	out, err = env.run("", "rules", "list", "-c", "AmerescoFTP")
	require.NoError(t, err)
	assert.NotContains(t, out, "NewBatch")

	out, err = env.run("", append([]string{"apply", "--yes"}, chpDraftArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 1 charges updated")

	// Applying the stored rule again is a no-op.
	out, err = env.run("", "apply", "-c", "AmerescoFTP", "--rule", "2", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "No charges would change.")

	out, err = env.run("", "recategorize", "-c", "AmerescoFTP", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "c3")
	assert.Contains(t, out, "ch.usage_charge")

	out, err = env.run("", "recategorize", "-c", "AmerescoFTP", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 1 charges updated")

	out, err = env.run("", "charges", "list", "-c", "AmerescoFTP", "--state", "uncategorized")
	require.NoError(t, err)
	assert.Contains(t, out, "c2")
	assert.NotContains(t, out, "c1")
	assert.Contains(t, out, "1 of 1 uncategorized charges")

	out, err = env.run("", "runs", "list", "-c", "AmerescoFTP")
	require.NoError(t, err)
	assert.Contains(t, out, "resolve")
	assert.Equal(t, 2, strings.Count(out, "AmerescoFTP"))
}

func TestCLI_ApplyDeclined(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("n\n", append([]string{"apply"}, chpDraftArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "[y/N]")
	assert.Contains(t, out, "Nothing written.")

	out, err = env.run("", "charges", "list", "-c", "AmerescoFTP", "--state", "uncategorized")
	require.NoError(t, err)
	assert.Contains(t, out, "3 of 3 uncategorized charges")
}

func TestCLI_Resolve(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("", "resolve", "-c", "AmerescoFTP", "--charge-name", "solar rider")
	require.NoError(t, err)
	assert.Contains(t, out, "ch.usage_charge")
	assert.Contains(t, out, "global")

	_, err = env.run("", "resolve", "-c", "AmerescoFTP")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = env.run("", "resolve", "-c", "Nobody", "--charge-name", "x")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCLI_RuleAdministration(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("", append([]string{"rules", "create"}, chpDraftArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Created custom rule 2 at priority 5")

	_, err = env.run("", append([]string{"rules", "create"}, chpDraftArgs...)...)
	require.ErrorIs(t, err, common.ErrConflict)

	out, err = env.run("", "rules", "edit", "2", "--classification", "OldBatch", "--expect-version", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "OldBatch")

	_, err = env.run("", "rules", "edit", "2", "--name", "stale", "--expect-version", "1")
	require.ErrorIs(t, err, common.ErrConflict)

	_, err = env.run("", "rules", "edit", "2")
	require.ErrorIs(t, err, common.ErrValidation)

	out, err = env.run("", "rules", "approve", "2", "--by", "analyst")
	require.NoError(t, err)
	assert.Contains(t, out, "Approved 1 rule(s) as analyst")

	out, err = env.run("", "rules", "disable", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Disabled 1 rule(s)")

	out, err = env.run("", "rules", "list", "-c", "AmerescoFTP")
	require.NoError(t, err)
	assert.NotContains(t, out, "OldBatch")

	out, err = env.run("", "rules", "list", "-c", "AmerescoFTP", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "OldBatch")

	out, err = env.run("", "rules", "export", "-c", "AmerescoFTP")
	require.NoError(t, err)
	assert.Contains(t, out, "classification: OldBatch")
	assert.Contains(t, out, "classification: ch.usage_charge")

	_, err = env.run("", "rules", "show", "nope")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = env.run("", "rules", "show", "99")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCLI_Customers(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("", "customers", "add", "Other", "--org", "org-2")
	require.NoError(t, err)
	assert.Contains(t, out, "Added customer Other")

	out, err = env.run("", "customers", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "AmerescoFTP")
	assert.Contains(t, out, "org-2")

	_, err = env.run("", "customers", "add", "Other")
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestCLI_MigrateStatus(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("", "migrate", "--status")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version: 4 (latest 4)")
}
