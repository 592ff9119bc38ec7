package domain

const (
	StageCaptured  = "captured"
	StageOrganized = "organized"
	StageDistilled = "distilled"
	StageExpressed = "expressed"
)

const (
	PARAProject  = "project"
	PARAArea     = "area"
	PARAResource = "resource"
	PARAArchive  = "archive"
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

const (
	EnergyLow    = "low"
	EnergyMedium = "medium"
	EnergyHigh   = "high"
)

const (
	CommitmentCommitted = "committed"
	CommitmentThisWeek  = "this-week"
	CommitmentSomeday   = "someday"
	CommitmentMaybe     = "maybe"
)

const (
	ExecutionIdle      = "idle"
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

const (
	DelegationPending   = "pending"
	DelegationCompleted = "completed"
)

// ContextTags is the closed set of GTD context tags.
var ContextTags = []string{
	"at-computer", "by-email", "by-phone", "in-office", "on-errand",
	"at-home", "waiting", "shopping", "research", "meeting", "reading",
}

// StageRank orders lifecycle stages; unknown stages rank below captured.
func StageRank(stage string) int {
	switch stage {
	case StageCaptured:
		return 1
	case StageOrganized:
		return 2
	case StageDistilled:
		return 3
	case StageExpressed:
		return 4
	default:
		return 0
	}
}

type Idea struct {
	ID               string   `json:"id"`
	ParentIdeaID     *string  `json:"parent_idea_id,omitempty"`
	Text             string   `json:"text"`
	AudioRef         *string  `json:"audio_ref,omitempty"`
	Source           string   `json:"source"`
	CodeStage        string   `json:"code_stage" enum:"captured,organized,distilled,expressed"`
	PARAType         *string  `json:"para_type,omitempty"`
	Type             *string  `json:"type,omitempty"`
	Category         *string  `json:"category,omitempty"`
	Summary          *string  `json:"summary,omitempty"`
	ImmediateAction  *string  `json:"immediate_action,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
	NeedsReview      bool     `json:"needs_review"`
	ContextTag       *string  `json:"context_tag,omitempty"`
	Energy           *string  `json:"energy,omitempty"`
	CommitmentKind   *string  `json:"commitment_kind,omitempty"`
	IsNextAction     bool     `json:"is_next_action"`
	Objective        *string  `json:"objective,omitempty"`
	Notes            *string  `json:"notes,omitempty"`
	AssignedTo       *string  `json:"assigned_to,omitempty"`
	Priority         *string  `json:"priority,omitempty"`
	EstimatedTime    *string  `json:"estimated_time,omitempty"`
	IsProject        bool     `json:"is_project"`
	SuggestedProject *string  `json:"suggested_project,omitempty"`
	SuggestedAgent   *string  `json:"suggested_agent,omitempty"`
	SuggestedSkills  []string `json:"suggested_skills"`
	DistilledSummary *string  `json:"distilled_summary,omitempty"`
	ExpressedOutput  *string  `json:"expressed_output,omitempty"`
	Completed        bool     `json:"completed"`
	CompletedAt      *string  `json:"completed_at,omitempty" format:"date-time"`
	ExecutionStatus  string   `json:"execution_status" enum:"idle,running,completed,failed"`
	ExecutionOutput  *string  `json:"execution_output,omitempty"`
	ExecutionError   *string  `json:"execution_error,omitempty"`
	ExecutedBy       *string  `json:"executed_by,omitempty"`
	ExecutedAt       *string  `json:"executed_at,omitempty" format:"date-time"`
	RelatedAreaID    *string  `json:"related_area_id,omitempty"`
	CreatedBy        string   `json:"created_by"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

type AuditEntry struct {
	ID                 string  `json:"id"`
	IdeaID             string  `json:"idea_id"`
	Source             string  `json:"source"`
	InputText          string  `json:"input_text"`
	Confidence         float64 `json:"confidence"`
	ClassificationJSON string  `json:"classification_json"`
	RoutedTo           string  `json:"routed_to"`
	NeedsReview        bool    `json:"needs_review"`
	Reviewed           bool    `json:"reviewed"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
}

type Delegation struct {
	ID          string  `json:"id"`
	IdeaID      *string `json:"idea_id,omitempty"`
	DelegatedTo string  `json:"delegated_to"`
	DelegatedBy string  `json:"delegated_by"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"pending,completed"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type Area struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Horizon     string `json:"horizon,omitempty"`
	Status      string `json:"status" enum:"active,archived"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type KnowledgeEntry struct {
	ID        string  `json:"id"`
	Key       string  `json:"key"`
	Content   string  `json:"content"`
	Category  string  `json:"category,omitempty"`
	PARAType  string  `json:"para_type"`
	CodeStage string  `json:"code_stage"`
	Source    string  `json:"source"`
	IdeaID    *string `json:"idea_id,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Person struct {
	Username   string `json:"username"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	Expertise  string `json:"expertise,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
