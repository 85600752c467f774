package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/pattern"
	"github.com/Veraticus/chargemap/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore keeps charges in memory and can fail chosen chunk writes.
type fakeStore struct {
	service.RuleStore
	service.CustomerStore

	charges    map[string]model.Charge
	failChunks map[int]error
	runs       []model.ApplyResult
	chunks     [][]model.ClassificationUpdate
	mu         sync.Mutex
}

func newFakeStore(charges ...model.Charge) *fakeStore {
	s := &fakeStore{charges: make(map[string]model.Charge), failChunks: make(map[int]error)}
	for _, c := range charges {
		s.charges[c.ID] = c
	}
	return s
}

func (s *fakeStore) QueryCharges(_ context.Context, _ string, _ model.ChargeFilter) ([]model.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Charge
	for _, c := range s.charges {
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeStore) CountCharges(context.Context, string, model.ChargeState) (int, error) {
	return len(s.charges), nil
}

func (s *fakeStore) SaveCharges(_ context.Context, charges []model.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range charges {
		s.charges[c.ID] = c
	}
	return nil
}

func (s *fakeStore) UpdateChargeClassifications(_ context.Context, updates []model.ClassificationUpdate) ([]model.UpdateOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.chunks)
	s.chunks = append(s.chunks, updates)
	if err, ok := s.failChunks[call]; ok {
		return nil, err
	}

	outcomes := make([]model.UpdateOutcome, len(updates))
	for i, u := range updates {
		outcomes[i].ChargeID = u.ChargeID
		c, ok := s.charges[u.ChargeID]
		if !ok || c.CurrentClassification() != u.OldClassification {
			outcomes[i].Err = errors.New("stale")
			continue
		}
		c.Classification = u.NewClassification
		s.charges[u.ChargeID] = c
	}
	return outcomes, nil
}

func (s *fakeStore) RecordApplyRun(_ context.Context, result *model.ApplyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *result)
	return nil
}

func (s *fakeStore) ListApplyRuns(context.Context, string, int) ([]model.ApplyRun, error) {
	return nil, nil
}

func (s *fakeStore) list() []model.Charge {
	out, _ := s.QueryCharges(context.Background(), "", model.ChargeFilter{})
	return out
}

func riderCharges(n int) []model.Charge {
	charges := make([]model.Charge, n)
	for i := range n {
		charges[i] = charge(fmt.Sprintf("c%02d", i), fmt.Sprintf("Rider %d", i))
	}
	return charges
}

type recordingObserver struct {
	applies  []*model.ApplyResult
	previews int
}

func (o *recordingObserver) ObserveResolution(string, model.Resolution) {}
func (o *recordingObserver) ObservePreview(_ string, n int) { o.previews += n }
func (o *recordingObserver) ObserveApply(r *model.ApplyResult) { o.applies = append(o.applies, r) }

func TestApply_ConsistentWithPreviewAndIdempotent(t *testing.T) {
	store := newFakeStore(append(riderCharges(5), charge("other", "Delivery"))...)
	e := NewWithConfig(store, pattern.NewMatcher(), Config{ChunkSize: 2})
	obs := &recordingObserver{}
	e.SetObserver(obs)
	e.newRunID = func() string { return "run-fixed" }

	target := rule(9, model.ScopeCustom, 1, "ch.rider", contains("rider"))

	preview, err := e.PreviewApply(target, store.list())
	require.NoError(t, err)
	require.Len(t, preview, 5)

	var progress []int
	result, err := e.Apply(context.Background(), target, store.list(), ApplyOptions{
		OnProgress: func(done, _ int) { progress = append(progress, done) },
	})
	require.NoError(t, err)

	previewIDs := make([]string, len(preview))
	for i, c := range preview {
		previewIDs[i] = c.Charge.ID
	}
	assert.ElementsMatch(t, previewIDs, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.Equal(t, "run-fixed", result.RunID)
	assert.Equal(t, "AmerescoFTP", result.CustomerName)
	assert.Equal(t, 6, result.Candidates)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, []int{2, 4, 5}, progress)
	assert.Len(t, store.chunks, 3)
	assert.Equal(t, "5 of 5 charges updated", result.Summary())

	again, err := e.PreviewApply(target, store.list())
	require.NoError(t, err)
	assert.Empty(t, again)

	second, err := e.Apply(context.Background(), target, store.list(), ApplyOptions{})
	require.NoError(t, err)
	assert.Empty(t, second.Succeeded)
	assert.Empty(t, second.Failed)

	require.Len(t, store.runs, 2)
	assert.Len(t, obs.applies, 2)
}

func TestApply_PartialFailures(t *testing.T) {
	store := newFakeStore(riderCharges(6)...)
	store.failChunks[1] = &common.StoreUnavailableError{Op: "write", Err: errors.New("disk I/O error")}
	e := NewWithConfig(store, pattern.NewMatcher(), Config{ChunkSize: 2})

	target := rule(9, model.ScopeCustom, 1, "ch.rider", contains("rider"))
	charges := store.list()

	// One charge moves on between preview and apply.
	stale := charges[0]
	stale.Classification = "ch.manual"
	require.NoError(t, store.SaveCharges(context.Background(), []model.Charge{stale}))

	result, err := e.Apply(context.Background(), target, charges, ApplyOptions{})
	require.NoError(t, err)

	assert.Len(t, result.Succeeded, 3)
	assert.Len(t, result.Failed, 3)
	assert.Equal(t, "3 of 6 charges updated, 3 failed", result.Summary())
	assert.Len(t, store.chunks, 3, "later chunks still run after a failed chunk")

	for _, f := range result.Failed {
		assert.NotEmpty(t, f.Reason)
		assert.NotContains(t, f.Reason, "disk I/O error")
	}
}

func TestApply_RetriesTransientChunks(t *testing.T) {
	store := newFakeStore(riderCharges(2)...)
	store.failChunks[0] = &common.StoreUnavailableError{Op: "write", Err: errors.New("database is locked"), Transient: true}

	e := NewWithConfig(store, pattern.NewMatcher(), Config{
		ChunkSize: 10,
		Retry:     service.RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond},
	})

	result, err := e.Apply(context.Background(), rule(9, model.ScopeCustom, 1, "ch.rider", contains("rider")), store.list(), ApplyOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 2)
	assert.Empty(t, result.Failed)
	assert.Len(t, store.chunks, 2)
}

func TestApply_NoRetryByDefault(t *testing.T) {
	store := newFakeStore(riderCharges(2)...)
	store.failChunks[0] = &common.StoreUnavailableError{Op: "write", Err: errors.New("database is locked"), Transient: true}

	e := New(store, pattern.NewMatcher())
	result, err := e.Apply(context.Background(), rule(9, model.ScopeCustom, 1, "ch.rider", contains("rider")), store.list(), ApplyOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Failed, 2)
	assert.Len(t, store.chunks, 1)
}

func TestApply_Canceled(t *testing.T) {
	store := newFakeStore(riderCharges(3)...)
	e := NewWithConfig(store, pattern.NewMatcher(), Config{ChunkSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result, err := e.Apply(ctx, rule(9, model.ScopeCustom, 1, "ch.rider", contains("rider")), store.list(), ApplyOptions{
		OnProgress: func(done, _ int) {
			if done == 1 {
				cancel()
			}
		},
	})
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 1)
	assert.Len(t, result.Failed, 2)
	assert.Contains(t, result.Failed[0].Reason, "not attempted")
	assert.Len(t, store.runs, 1, "canceled runs are still recorded")
}

func TestApply_InvalidRule(t *testing.T) {
	store := newFakeStore(riderCharges(1)...)
	e := New(store, pattern.NewMatcher())

	bad := rule(9, model.ScopeCustom, 1, "", contains("rider"))
	_, err := e.Apply(context.Background(), bad, store.list(), ApplyOptions{})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Empty(t, store.chunks)
	assert.Empty(t, store.runs)
}
