package domain

type Client struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PackageRef  string `json:"package_ref,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Asset struct {
	ID                     int64   `json:"id"`
	TemplateID             string  `json:"template_id"`
	Type                   string  `json:"type"`
	Name                   string  `json:"name"`
	URL                    *string `json:"url,omitempty"`
	Description            *string `json:"description,omitempty"`
	IsRequired             bool    `json:"is_required"`
	DefaultFrequency       *int    `json:"default_frequency,omitempty"`
	DefaultDurationMinutes *int    `json:"default_duration_minutes,omitempty"`
}

type TeamMember struct {
	TemplateID   string  `json:"template_id"`
	AgentRef     string  `json:"agent_ref"`
	Role         *string `json:"role,omitempty"`
	TeamRef      *string `json:"team_ref,omitempty"`
	AssignedDate *string `json:"assigned_date,omitempty" format:"date-time"`
}

type Assignment struct {
	ID         string  `json:"id"`
	ClientID   string  `json:"client_id"`
	TemplateID *string `json:"template_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type AssetSetting struct {
	ID                   int64   `json:"id"`
	AssignmentID         string  `json:"assignment_id"`
	AssetID              int64   `json:"asset_id"`
	RequiredFrequency    *int    `json:"required_frequency,omitempty"`
	Period               *string `json:"period,omitempty"`
	IdealDurationMinutes *int    `json:"ideal_duration_minutes,omitempty"`
}

type Task struct {
	ID              int64   `json:"id"`
	AssignmentID    string  `json:"assignment_id"`
	AssetID         *int64  `json:"asset_id,omitempty"`
	CategoryID      *int64  `json:"category_id,omitempty"`
	Title           string  `json:"title"`
	DueDate         string  `json:"due_date" format:"date-time"`
	Status          string  `json:"status" enum:"pending,in_progress,completed,cancelled"`
	Priority        string  `json:"priority" enum:"low,medium,high"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type TaskCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type AuditEntry struct {
	ID             int64   `json:"id"`
	EntityType     string  `json:"entity_type"`
	EntityID       string  `json:"entity_id"`
	Action         string  `json:"action"`
	ActorID        string  `json:"actor_id"`
	TS             string  `json:"ts" format:"date-time"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
	DetailsJSON    string  `json:"details_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
