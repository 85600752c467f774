package ruleset

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const amerescoBundle = `
customers:
  - name: AmerescoFTP
    organization_id: org-17
rules:
  - name: Riders are usage
    scope: global
    classification: ch.usage_charge
    priority: 10
    conditions:
      - field: charge_name
        operator: contains
        value: Rider
  - name: CHP batch
    customer: AmerescoFTP
    classification: NewBatch
    priority: 5
    conditions:
      - field: charge_name
        operator: exactly_matches
        value: CHP Rider
charges:
  - id: a1
    customer: AmerescoFTP
    statement_date: "2025-03-01"
    charge_name: CHP Rider
  - id: a2
    customer: AmerescoFTP
    charge_name: Solar Rider
`

func TestLoad(t *testing.T) {
	b, err := Load(strings.NewReader(amerescoBundle))
	require.NoError(t, err)

	require.Len(t, b.Rules, 2)
	assert.Equal(t, model.ScopeCustom, b.Rules[1].Scope, "scope defaults to custom")
	assert.Equal(t, "AmerescoFTP", b.Rules[1].CustomerName)

	charge, err := b.Charges[0].Model()
	require.NoError(t, err)
	assert.Equal(t, 2025, charge.StatementDate.Year())
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "rules:\n  - name: x\n    colour: red\n"},
		{"bad regex", "rules:\n  - customer: A\n    classification: ch.x\n    conditions:\n      - {field: charge_name, operator: regex, value: '(['}\n"},
		{"custom rule without customer", "rules:\n  - classification: ch.x\n    conditions:\n      - {field: charge_name, operator: contains, value: x}\n"},
		{"charge without name", "charges:\n  - {id: c1, customer: A}\n"},
		{"bad date", "charges:\n  - {id: c1, customer: A, charge_name: x, statement_date: 03/01/2025}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_Empty(t *testing.T) {
	b, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, b.Rules)
}

func TestSeedAndExport(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(amerescoBundle), 0o600))

	b, err := LoadFile(path)
	require.NoError(t, err)

	result, err := Seed(ctx, store, b)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{CustomersCreated: 1, RulesCreated: 2, ChargesSaved: 2}, result)

	custom, global, err := store.ListRules(ctx, "AmerescoFTP")
	require.NoError(t, err)
	require.Len(t, custom, 1)
	require.Len(t, global, 1)
	assert.Equal(t, 5, custom[0].Priority)

	// Reseeding keeps customers but collides on rule priorities.
	_, err = Seed(ctx, store, b)
	assert.ErrorIs(t, err, common.ErrConflict)

	exported, err := Export(ctx, store, "AmerescoFTP")
	require.NoError(t, err)
	require.Len(t, exported.Rules, 2)
	assert.Equal(t, "org-17", exported.Customers[0].OrganizationID)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, exported))

	again, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, exported.Rules, again.Rules)

	_, err = Export(ctx, store, "Nobody")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestExportSeed_KeepsDisabledRules(t *testing.T) {
	source := testutil.SetupTestDB(t)
	ctx := context.Background()

	b, err := Load(strings.NewReader(amerescoBundle))
	require.NoError(t, err)
	_, err = Seed(ctx, source, b)
	require.NoError(t, err)

	rules, err := source.QueryRules(ctx, "", model.RuleFilter{})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	for _, r := range rules {
		require.NoError(t, source.SetRuleEnabled(ctx, r.ID, false))
	}

	exported, err := Export(ctx, source, "")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, exported))
	assert.Contains(t, buf.String(), "enabled: false")

	loaded, err := Load(&buf)
	require.NoError(t, err)

	target := testutil.SetupTestDB(t)
	result, err := Seed(ctx, target, loaded)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RulesCreated)
	assert.Equal(t, 2, result.RulesDisabled)

	custom, global, err := target.ListRules(ctx, "AmerescoFTP")
	require.NoError(t, err)
	assert.Empty(t, custom, "disabled custom rule must not come back live")
	assert.Empty(t, global, "disabled global rule must not come back live")

	all, err := target.QueryRules(ctx, "", model.RuleFilter{IncludeDisabled: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, r := range all {
		assert.False(t, r.Enabled, r.Name)
	}
}

func TestSeed_RejectsBeforeWriting(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{
			name: "priority taken in store",
			doc: `
customers:
  - name: Fresh
rules:
  - {name: clash, scope: global, classification: ch.x, priority: 10, conditions: [{field: charge_name, operator: contains, value: x}]}
charges:
  - {id: f1, customer: Fresh, charge_name: Fee}
`,
			wantErr: common.ErrConflict,
		},
		{
			name: "priority repeated in bundle",
			doc: `
customers:
  - name: Fresh
rules:
  - {customer: Fresh, classification: ch.x, priority: 3, conditions: [{field: charge_name, operator: contains, value: x}]}
  - {customer: Fresh, classification: ch.y, priority: 3, conditions: [{field: charge_name, operator: contains, value: y}]}
`,
			wantErr: common.ErrConflict,
		},
		{
			name: "rule for unknown customer",
			doc: `
customers:
  - name: Fresh
rules:
  - {customer: Ghost, classification: ch.x, conditions: [{field: charge_name, operator: contains, value: x}]}
`,
			wantErr: common.ErrNotFound,
		},
		{
			name: "charge for unknown customer",
			doc: `
customers:
  - name: Fresh
charges:
  - {id: g1, customer: Ghost, charge_name: Fee}
`,
			wantErr: common.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.SetupTestDB(t)
			ctx := context.Background()

			base, err := Load(strings.NewReader(amerescoBundle))
			require.NoError(t, err)
			_, err = Seed(ctx, store, base)
			require.NoError(t, err)

			b, err := Load(strings.NewReader(tt.doc))
			require.NoError(t, err)

			_, err = Seed(ctx, store, b)
			require.ErrorIs(t, err, tt.wantErr)

			_, err = store.GetCustomer(ctx, "Fresh")
			assert.ErrorIs(t, err, common.ErrNotFound, "nothing is written when the bundle is rejected")

			rules, err := store.QueryRules(ctx, "", model.RuleFilter{IncludeDisabled: true})
			require.NoError(t, err)
			assert.Len(t, rules, 2)
		})
	}
}
