package server

import (
	"net/http"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := s.store.ListCustomers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if customers == nil {
		customers = []model.Customer{}
	}
	writeJSON(w, http.StatusOK, customers)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeDisabled, err := boolQuery(r, "include_disabled")
	if err != nil {
		writeError(w, r, err)
		return
	}

	filter := model.RuleFilter{
		Scope:           model.RuleScope(q.Get("scope")),
		Classification:  q.Get("classification"),
		Provider:        q.Get("provider"),
		Value:           q.Get("value"),
		IncludeDisabled: includeDisabled,
	}

	rules, err := s.store.QueryRules(r.Context(), customerParam(r), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rules == nil {
		rules = []model.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateCustomRule(w http.ResponseWriter, r *http.Request) {
	var draft model.RuleDraft
	if err := decodeJSON(r, &draft); err != nil {
		writeError(w, r, err)
		return
	}

	customer := customerParam(r)
	if draft.Scope != "" && draft.Scope != model.ScopeCustom {
		writeError(w, r, common.NewValidationError("scope", "customer rules must have scope %q", model.ScopeCustom))
		return
	}
	if draft.CustomerName != "" && draft.CustomerName != customer {
		writeError(w, r, common.NewValidationError("customer_name", "draft belongs to %q, not %q", draft.CustomerName, customer))
		return
	}
	draft.Scope = model.ScopeCustom
	draft.CustomerName = customer

	s.createRule(w, r, draft)
}

func (s *Server) handleCreateGlobalRule(w http.ResponseWriter, r *http.Request) {
	var draft model.RuleDraft
	if err := decodeJSON(r, &draft); err != nil {
		writeError(w, r, err)
		return
	}
	if draft.Scope != "" && draft.Scope != model.ScopeGlobal {
		writeError(w, r, common.NewValidationError("scope", "global rules must have scope %q", model.ScopeGlobal))
		return
	}
	draft.Scope = model.ScopeGlobal

	s.createRule(w, r, draft)
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request, draft model.RuleDraft) {
	rule := draft.Rule()
	id, err := s.store.CreateRule(r.Context(), &rule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idBody{ID: id})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rule, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var changes model.RuleChanges
	if err := decodeJSON(r, &changes); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.store.UpdateRule(r.Context(), id, changes); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeRule(w, r, id)
}

func (s *Server) handleUpdatePriority(w http.ResponseWriter, r *http.Request) {
	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body struct {
		Priority *int `json:"priority"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Priority == nil {
		writeError(w, r, common.NewValidationError("priority", "is required"))
		return
	}

	if err := s.store.UpdatePriority(r.Context(), id, *body.Priority); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeRule(w, r, id)
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := ruleIDParam(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.store.SetRuleEnabled(r.Context(), id, enabled); err != nil {
			writeError(w, r, err)
			return
		}
		s.writeRule(w, r, id)
	}
}

func (s *Server) handleApproveRules(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Approver string  `json:"approver"`
		IDs      []int64 `json:"ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.store.ApproveRules(r.Context(), body.IDs, body.Approver); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReorderRules(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scope model.RuleScope `json:"scope"`
		IDs   []int64         `json:"ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Scope == "" {
		body.Scope = model.ScopeCustom
	}

	customer := customerParam(r)
	if err := s.store.ReorderRules(r.Context(), body.Scope, customer, body.IDs); err != nil {
		writeError(w, r, err)
		return
	}

	rules, err := s.store.QueryRules(r.Context(), customer, model.RuleFilter{Scope: body.Scope, IncludeDisabled: true})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// writeRule responds with the stored state of rule id.
func (s *Server) writeRule(w http.ResponseWriter, r *http.Request, id int64) {
	rule, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}
