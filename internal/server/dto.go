package server

import (
	"studioflow/internal/catalog"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id,omitempty"`
}

type AdvanceRequest struct {
	Reason string `json:"reason,omitempty"`
}

type JumpRequest struct {
	Phase  string `json:"phase" example:"review"`
	Reason string `json:"reason,omitempty"`
}

type ApproveRequest struct {
	Phase string `json:"phase" example:"signoff"`
	Notes string `json:"notes,omitempty"`
}

type RejectRequest struct {
	Phase    string `json:"phase" example:"review"`
	Feedback string `json:"feedback"`
}

type SetActionRequest struct {
	Completed bool   `json:"completed"`
	Notes     string `json:"notes,omitempty"`
}

type CreateRuleRequest struct {
	Phase        string `json:"phase"`
	AutoAdvance  bool   `json:"auto_advance"`
	AutoComplete bool   `json:"auto_complete,omitempty"`
	Active       *bool  `json:"active,omitempty"`
}

type UpdateRuleRequest struct {
	AutoAdvance  *bool `json:"auto_advance,omitempty"`
	AutoComplete *bool `json:"auto_complete,omitempty"`
	Active       *bool `json:"active,omitempty"`
}

// Responses

type PhaseResponse struct {
	domain.Phase
	Actions []domain.Action `json:"actions"`
}

type CreateProjectResponse struct {
	Project domain.Project    `json:"project"`
	State   domain.PhaseState `json:"state"`
}

type ProjectListResponse struct {
	Items []domain.Project `json:"items"`
}

type HistoryResponse = engine.HistoryPage

type DecisionListResponse struct {
	Items []domain.PhaseDecision `json:"items"`
}

type ActivityListResponse struct {
	Items []domain.ActivityEntry `json:"items"`
}

type RuleListResponse struct {
	Items []domain.AutomationRule `json:"items"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Admin   bool   `json:"admin"`
	Source  string `json:"source"`
}

func phaseResponses(cat *catalog.Catalog) []PhaseResponse {
	phases := cat.Phases()
	res := make([]PhaseResponse, 0, len(phases))
	for _, p := range phases {
		res = append(res, PhaseResponse{Phase: p, Actions: nonNilSlice(cat.Actions(p.ID))})
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
