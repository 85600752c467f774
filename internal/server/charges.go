package server

import (
	"net/http"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/engine"
	"github.com/Veraticus/chargemap/internal/model"
)

type previewRequest struct {
	Draft  *model.RuleDraft  `json:"draft,omitempty"`
	State  model.ChargeState `json:"state,omitempty"`
	RuleID int64             `json:"rule_id,omitempty"`
}

type recategorizeRequest struct {
	State  model.ChargeState `json:"state,omitempty"`
	DryRun bool              `json:"dry_run"`
}

type recategorizeResponse struct {
	Result  *model.ApplyResult   `json:"result,omitempty"`
	Changes []model.ChargeChange `json:"changes"`
}

type chargePage struct {
	Charges  []model.Charge `json:"charges"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

func (s *Server) handleListCharges(w http.ResponseWriter, r *http.Request) {
	state, err := model.ParseChargeState(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, r, common.NewValidationError("state", "%v", err))
		return
	}
	page, err := intQuery(r, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	pageSize, err := intQuery(r, "page_size")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if page == 0 {
		page = 1
	}

	customer := customerParam(r)
	if _, err := s.store.GetCustomer(r.Context(), customer); err != nil {
		writeError(w, r, err)
		return
	}

	charges, err := s.store.QueryCharges(r.Context(), customer, model.ChargeFilter{State: state, Page: page, PageSize: pageSize})
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := s.store.CountCharges(r.Context(), customer, state)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if charges == nil {
		charges = []model.Charge{}
	}

	writeJSON(w, http.StatusOK, chargePage{Charges: charges, Total: total, Page: page, PageSize: pageSize})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var charge model.Charge
	if err := decodeJSON(r, &charge); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.engine.ResolveCharge(r.Context(), customerParam(r), charge)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, state, err := decodePreview(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	customer := customerParam(r)
	var changes []model.ChargeChange
	if req.Draft != nil {
		changes, err = s.engine.PreviewDraft(r.Context(), customer, *req.Draft, state)
	} else {
		changes, err = s.engine.PreviewRule(r.Context(), customer, req.RuleID, state)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if changes == nil {
		changes = []model.ChargeChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	req, state, err := decodePreview(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	customer := customerParam(r)
	var result *model.ApplyResult
	if req.Draft != nil {
		result, err = s.engine.ApplyDraft(r.Context(), customer, *req.Draft, state, engine.ApplyOptions{})
	} else {
		result, err = s.engine.ApplyRule(r.Context(), customer, req.RuleID, state, engine.ApplyOptions{})
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRecategorize(w http.ResponseWriter, r *http.Request) {
	var req recategorizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	state, err := model.ParseChargeState(string(req.State))
	if err != nil {
		writeError(w, r, common.NewValidationError("state", "%v", err))
		return
	}

	changes, result, err := s.engine.Recategorize(r.Context(), customerParam(r), state, req.DryRun, engine.ApplyOptions{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if changes == nil {
		changes = []model.ChargeChange{}
	}
	writeJSON(w, http.StatusOK, recategorizeResponse{Changes: changes, Result: result})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	runs, err := s.store.ListApplyRuns(r.Context(), customerParam(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.ApplyRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// decodePreview reads a preview or apply request, which names exactly one of
// a draft or a stored rule.
func decodePreview(r *http.Request) (previewRequest, model.ChargeState, error) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, "", err
	}
	if (req.Draft == nil) == (req.RuleID == 0) {
		return req, "", common.NewValidationError("body", "exactly one of draft or rule_id is required")
	}
	state, err := model.ParseChargeState(string(req.State))
	if err != nil {
		return req, "", common.NewValidationError("state", "%v", err)
	}
	return req, state, nil
}
