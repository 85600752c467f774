package storage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chargeIDs(charges []model.Charge) []string {
	ids := make([]string, len(charges))
	for i, c := range charges {
		ids[i] = c.ID
	}
	return ids
}

func TestSaveAndQueryCharges(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	charges := createTestCharges("Acme", "acme", 4)
	charges[0].Classification = "ch.delivery"
	charges[0].ContributionStatus = model.ContributionContributing
	charges[1].MeterNumber = "M-1"
	require.NoError(t, store.SaveCharges(ctx, charges))
	require.NoError(t, store.SaveCharges(ctx, createTestCharges("Beta", "beta", 2)))

	all, err := store.QueryCharges(ctx, "Acme", model.ChargeFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme-4", "acme-3", "acme-2", "acme-1"}, chargeIDs(all), "newest statement first")

	byID := make(map[string]model.Charge)
	for _, c := range all {
		byID[c.ID] = c
	}
	assert.Equal(t, model.UncategorizedCharge, byID["acme-2"].Classification)
	assert.Equal(t, "M-1", byID["acme-2"].MeterNumber)
	assert.Empty(t, byID["acme-1"].MeterNumber)
	assert.True(t, byID["acme-1"].StatementDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	tests := []struct {
		state model.ChargeState
		want  []string
	}{
		{state: model.StateUncategorized, want: []string{"acme-4", "acme-3", "acme-2"}},
		{state: model.StateApproved, want: []string{"acme-1"}},
		{state: model.StateApprovalNeeded, want: []string{"acme-4", "acme-3", "acme-2"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			got, err := store.QueryCharges(ctx, "Acme", model.ChargeFilter{State: tt.state})
			require.NoError(t, err)
			assert.Equal(t, tt.want, chargeIDs(got))

			count, err := store.CountCharges(ctx, "Acme", tt.state)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), count)
		})
	}

	page2, err := store.QueryCharges(ctx, "Acme", model.ChargeFilter{Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme-1"}, chargeIDs(page2))

	_, err = store.QueryCharges(ctx, "Acme", model.ChargeFilter{State: "pending"})
	assert.ErrorIs(t, err, common.ErrValidation)

	counts, err := store.CountUncategorized(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Acme": 3, "Beta": 2}, counts)
}

func TestQueryCharges_PageBounds(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveCharges(ctx, createTestCharges("Acme", "acme", 2)))

	_, err := store.QueryCharges(ctx, "Acme", model.ChargeFilter{Page: math.MaxInt, PageSize: 50})
	assert.ErrorIs(t, err, common.ErrValidation, "offset would overflow")

	far, err := store.QueryCharges(ctx, "Acme", model.ChargeFilter{Page: math.MaxInt / 50, PageSize: 50})
	require.NoError(t, err)
	assert.Empty(t, far, "a page past the end is empty, never page 1")
}

func TestSaveCharges_Invalid(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	err := store.SaveCharges(context.Background(), []model.Charge{{ID: "x", CustomerName: "Acme"}})
	assert.ErrorIs(t, err, ErrInvalidCharge)
}

func TestUpdateChargeClassifications(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveCharges(ctx, createTestCharges("Acme", "acme", 3)))

	updates := []model.ClassificationUpdate{
		{ChargeID: "acme-1", OldClassification: model.UncategorizedCharge, NewClassification: "ch.solar", RuleID: 7, RunID: "run-1"},
		{ChargeID: "acme-2", OldClassification: "ch.wrong", NewClassification: "ch.solar", RuleID: 7, RunID: "run-1"},
		{ChargeID: "ghost", OldClassification: model.UncategorizedCharge, NewClassification: "ch.solar", RuleID: 7, RunID: "run-1"},
		{ChargeID: "acme-3", OldClassification: model.UncategorizedCharge, NewClassification: "", RuleID: 7, RunID: "run-1"},
	}

	outcomes, err := store.UpdateChargeClassifications(ctx, updates)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, ErrStaleCharge)
	assert.ErrorIs(t, outcomes[2].Err, common.ErrNotFound)
	assert.ErrorIs(t, outcomes[3].Err, common.ErrValidation)

	all, err := store.QueryCharges(ctx, "Acme", model.ChargeFilter{})
	require.NoError(t, err)
	got := make(map[string]string)
	for _, c := range all {
		got[c.ID] = c.Classification
	}
	assert.Equal(t, "ch.solar", got["acme-1"])
	assert.Equal(t, model.UncategorizedCharge, got["acme-2"])
	assert.Equal(t, model.UncategorizedCharge, got["acme-3"])

	history, err := store.GetClassificationHistory(ctx, "acme-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.UncategorizedCharge, history[0].OldClassification)
	assert.Equal(t, "ch.solar", history[0].NewClassification)
	assert.Equal(t, int64(7), history[0].RuleID)
	assert.Equal(t, "run-1", history[0].RunID)

	again, err := store.UpdateChargeClassifications(ctx, updates[:1])
	require.NoError(t, err)
	assert.ErrorIs(t, again[0].Err, ErrStaleCharge, "replaying a write does not apply twice")

	empty, err := store.UpdateChargeClassifications(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestApplyRuns(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := &model.ApplyResult{
		RunID: "run-1", CustomerName: "Acme", RuleID: 3,
		Succeeded: []string{"a", "b"}, Failed: []model.ChargeFailure{{ChargeID: "c", Reason: "stale"}},
		Unchanged: 4, StartedAt: start, FinishedAt: start.Add(time.Second),
	}
	second := &model.ApplyResult{
		RunID: "run-2", CustomerName: "Beta",
		StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour),
	}
	require.NoError(t, store.RecordApplyRun(ctx, first))
	require.NoError(t, store.RecordApplyRun(ctx, second))

	assert.ErrorIs(t, store.RecordApplyRun(ctx, &model.ApplyResult{}), ErrEmptyString)

	runs, err := store.ListApplyRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)

	runs, err = store.ListApplyRuns(ctx, "Acme", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(3), runs[0].RuleID)
	assert.Equal(t, 2, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, 4, runs[0].Unchanged)
}
