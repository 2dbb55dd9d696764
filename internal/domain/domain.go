package domain

// SystemActorID identifies engine-initiated changes such as auto-advance.
const SystemActorID = "system"

const (
	RoleAdmin  = "admin"
	RoleClient = "client"
)

const (
	ProjectStatusActive    = "active"
	ProjectStatusCompleted = "completed"
)

const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// RuleAllActionsComplete fires once every required action of a phase is done.
const RuleAllActionsComplete = "all_actions_complete"

type Project struct {
	ID        string  `json:"id" db:"id"`
	Name      string  `json:"name" db:"name"`
	OwnerID   string  `json:"owner_id" db:"owner_id"`
	Status    string  `json:"status" enum:"active,completed" db:"status"`
	CreatedAt string  `json:"created_at" format:"date-time" db:"created_at"`
	DeletedAt *string `json:"deleted_at,omitempty" format:"date-time" db:"deleted_at"`
}

type User struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`
	Email       string `json:"email,omitempty" db:"email"`
	Role        string `json:"role" enum:"admin,client" db:"role"`
	CreatedAt   string `json:"created_at" format:"date-time" db:"created_at"`
}

// Actor is the identity a workflow operation is performed on behalf of.
type Actor struct {
	ID    string
	Admin bool
}

// System returns the actor used for automation-driven changes.
func System() Actor {
	return Actor{ID: SystemActorID, Admin: true}
}

func (a Actor) IsSystem() bool { return a.ID == SystemActorID }

type Phase struct {
	ID                   string `json:"id" db:"id"`
	Key                  string `json:"key" db:"key"`
	Name                 string `json:"name" db:"name"`
	Description          string `json:"description,omitempty" db:"description"`
	Icon                 string `json:"icon,omitempty" db:"icon"`
	OrderIndex           int    `json:"order_index" db:"order_index"`
	RequiresClientAction bool   `json:"requires_client_action" db:"requires_client_action"`
	IsSystemPhase        bool   `json:"is_system_phase" db:"is_system_phase"`
}

type Action struct {
	ID          string `json:"id" db:"id"`
	PhaseID     string `json:"phase_id" db:"phase_id"`
	Key         string `json:"key" db:"key"`
	Description string `json:"description" db:"description"`
	IsRequired  bool   `json:"is_required" db:"is_required"`
	OrderIndex  int    `json:"order_index" db:"order_index"`
}

type PhaseTracking struct {
	ProjectID         string  `json:"project_id" db:"project_id"`
	CurrentPhaseID    string  `json:"current_phase_id" db:"current_phase_id"`
	CurrentPhaseIndex int     `json:"current_phase_index" db:"current_phase_index"`
	PhaseStartedAt    string  `json:"phase_started_at" format:"date-time" db:"phase_started_at"`
	IsCompleted       bool    `json:"is_completed" db:"is_completed"`
	CompletedAt       *string `json:"completed_at,omitempty" format:"date-time" db:"completed_at"`
	UpdatedAt         string  `json:"updated_at" format:"date-time" db:"updated_at"`
}

type PhaseCompletion struct {
	ProjectID   string `json:"project_id" db:"project_id"`
	PhaseID     string `json:"phase_id" db:"phase_id"`
	CompletedAt string `json:"completed_at" format:"date-time" db:"completed_at"`
}

type ActionStatus struct {
	ProjectID   string  `json:"project_id" db:"project_id"`
	ActionID    string  `json:"action_id" db:"action_id"`
	PhaseID     string  `json:"phase_id" db:"phase_id"`
	IsCompleted bool    `json:"is_completed" db:"is_completed"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time" db:"completed_at"`
	CompletedBy *string `json:"completed_by,omitempty" db:"completed_by"`
	Notes       string  `json:"notes,omitempty" db:"notes"`
	UpdatedAt   string  `json:"updated_at" format:"date-time" db:"updated_at"`
}

type RuleConfig struct {
	AutoAdvance  bool `json:"auto_advance" db:"auto_advance"`
	AutoComplete bool `json:"auto_complete,omitempty" db:"auto_complete"`
}

type AutomationRule struct {
	ID          string     `json:"id" db:"id"`
	FromPhaseID string     `json:"from_phase_id" db:"from_phase_id"`
	RuleType    string     `json:"rule_type" enum:"all_actions_complete" db:"rule_type"`
	Config      RuleConfig `json:"rule_config"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	CreatedAt   string     `json:"created_at" format:"date-time" db:"created_at"`
	UpdatedAt   string     `json:"updated_at" format:"date-time" db:"updated_at"`
}

type Transition struct {
	ID             string  `json:"id" db:"id"`
	ProjectID      string  `json:"project_id" db:"project_id"`
	Seq            int64   `json:"seq" db:"seq"`
	FromPhaseID    *string `json:"from_phase_id,omitempty" db:"from_phase_id"`
	ToPhaseID      string  `json:"to_phase_id" db:"to_phase_id"`
	TransitionedBy string  `json:"transitioned_by" db:"transitioned_by"`
	Reason         string  `json:"reason" db:"reason"`
	CreatedAt      string  `json:"created_at" format:"date-time" db:"created_at"`
}

// TransitionView is a history entry joined with phase and actor display data.
type TransitionView struct {
	Transition
	FromPhaseKey  string `json:"from_phase_key,omitempty" db:"from_phase_key"`
	FromPhaseName string `json:"from_phase_name,omitempty" db:"from_phase_name"`
	FromPhaseIcon string `json:"from_phase_icon,omitempty" db:"from_phase_icon"`
	ToPhaseKey    string `json:"to_phase_key" db:"to_phase_key"`
	ToPhaseName   string `json:"to_phase_name" db:"to_phase_name"`
	ToPhaseIcon   string `json:"to_phase_icon,omitempty" db:"to_phase_icon"`
	ActorName     string `json:"actor_name" db:"actor_name"`
}

type PhaseDecision struct {
	ID        string `json:"id" db:"id"`
	ProjectID string `json:"project_id" db:"project_id"`
	PhaseID   string `json:"phase_id" db:"phase_id"`
	Decision  string `json:"decision" enum:"approved,rejected" db:"decision"`
	ActorID   string `json:"actor_id" db:"actor_id"`
	Notes     string `json:"notes,omitempty" db:"notes"`
	CreatedAt string `json:"created_at" format:"date-time" db:"created_at"`
}

type ActivityEntry struct {
	ID          string `json:"id" db:"id"`
	ProjectID   string `json:"project_id" db:"project_id"`
	ActorID     string `json:"actor_id" db:"actor_id"`
	Action      string `json:"action" db:"action"`
	Description string `json:"description" db:"description"`
	Metadata    string `json:"metadata_json" db:"metadata_json"`
	CreatedAt   string `json:"created_at" format:"date-time" db:"created_at"`
}

type APIKey struct {
	ID        string `json:"id" db:"id"`
	ActorID   string `json:"actor_id" db:"actor_id"`
	Name      string `json:"name,omitempty" db:"name"`
	KeyHash   string `json:"key_hash" db:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time" db:"created_at"`
}

// ActionCheck is one entry of the current phase checklist.
type ActionCheck struct {
	Action
	IsCompleted bool    `json:"is_completed" db:"is_completed"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time" db:"completed_at"`
	CompletedBy *string `json:"completed_by,omitempty" db:"completed_by"`
	Notes       string  `json:"notes,omitempty" db:"notes"`
}

// PhaseState is the read model of a project's position in the pipeline.
type PhaseState struct {
	ProjectID           string            `json:"project_id" db:"project_id"`
	Phase               Phase             `json:"phase"`
	PhaseIndex          int               `json:"phase_index" db:"phase_index"`
	TotalPhases         int               `json:"total_phases" db:"total_phases"`
	PhaseStartedAt      string            `json:"phase_started_at" format:"date-time" db:"phase_started_at"`
	IsCompleted         bool              `json:"is_completed" db:"is_completed"`
	CompletedAt         *string           `json:"completed_at,omitempty" format:"date-time" db:"completed_at"`
	Completions         map[string]string `json:"completions"`
	Actions             []ActionCheck     `json:"actions"`
	AllRequiredComplete bool              `json:"all_required_complete" db:"all_required_complete"`
}
