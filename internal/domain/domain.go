package domain

import (
	"strings"
	"time"
)

// IntakeStatus is the client's phase in the onboarding pipeline.
type IntakeStatus string

const (
	StatusPending          IntakeStatus = "PENDING"
	StatusPrequalReview    IntakeStatus = "PREQUAL_REVIEW"
	StatusPrequalApproved  IntakeStatus = "PREQUAL_APPROVED"
	StatusNeedsMoreInfo    IntakeStatus = "NEEDS_MORE_INFO"
	StatusPhoneIssued      IntakeStatus = "PHONE_ISSUED"
	StatusInExecution      IntakeStatus = "IN_EXECUTION"
	StatusReadyForApproval IntakeStatus = "READY_FOR_APPROVAL"
	StatusApproved         IntakeStatus = "APPROVED"
	StatusRejected         IntakeStatus = "REJECTED"
	StatusInactive         IntakeStatus = "INACTIVE"
	StatusPartnershipEnded IntakeStatus = "PARTNERSHIP_ENDED"
)

// AllStatuses lists every intake status in pipeline order.
var AllStatuses = []IntakeStatus{
	StatusPending,
	StatusPrequalReview,
	StatusPrequalApproved,
	StatusNeedsMoreInfo,
	StatusPhoneIssued,
	StatusInExecution,
	StatusReadyForApproval,
	StatusApproved,
	StatusRejected,
	StatusInactive,
	StatusPartnershipEnded,
}

func (s IntakeStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s IntakeStatus) Terminal() bool {
	return s == StatusRejected || s == StatusInactive || s == StatusPartnershipEnded
}

type Client struct {
	ID                string       `json:"id"`
	FirstName         string       `json:"first_name"`
	LastName          string       `json:"last_name"`
	Email             string       `json:"email,omitempty"`
	Phone             string       `json:"phone,omitempty"`
	IntakeStatus      IntakeStatus `json:"intake_status"`
	StatusChangedAt   time.Time    `json:"status_changed_at" format:"date-time"`
	ExecutionDeadline *time.Time   `json:"execution_deadline,omitempty" format:"date-time"`
	AgentID           *string      `json:"agent_id,omitempty"`
	CreatedAt         time.Time    `json:"created_at" format:"date-time"`
}

func (c Client) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// HasAgent reports whether an agent owns the client; side effects aimed at
// the agent are skipped otherwise.
func (c Client) HasAgent() bool {
	return c.AgentID != nil && *c.AgentID != ""
}

type VerificationStatus string

const (
	VerificationNotStarted    VerificationStatus = "not-started"
	VerificationPendingReview VerificationStatus = "pending-review"
	VerificationVerified      VerificationStatus = "verified"
	VerificationRetryPending  VerificationStatus = "retry-pending"
)

// PlatformVerification gates one edge of the intake pipeline behind a
// third-party platform check.
type PlatformVerification struct {
	ID          string             `json:"id"`
	ClientID    string             `json:"client_id"`
	Platform    string             `json:"platform"`
	Status      VerificationStatus `json:"status" enum:"not-started,pending-review,verified,retry-pending"`
	RetryAfter  *time.Time         `json:"retry_after,omitempty" format:"date-time"`
	RetryCount  int                `json:"retry_count"`
	ReviewNotes *string            `json:"review_notes,omitempty"`
	ReviewedBy  *string            `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time         `json:"reviewed_at,omitempty" format:"date-time"`
	AgentResult *string            `json:"agent_result,omitempty"`
	Evidence    []string           `json:"evidence,omitempty"`
	CreatedAt   time.Time          `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time          `json:"updated_at" format:"date-time"`
}

const (
	EventStatusChange         = "STATUS_CHANGE"
	EventPlatformStatusChange = "PLATFORM_STATUS_CHANGE"
	EventClientCreated        = "CLIENT_CREATED"
	EventTaskCompleted        = "TASK_COMPLETED"
)

// Event is an immutable audit log entry.
type Event struct {
	ID          int64     `json:"id"`
	EventType   string    `json:"event_type"`
	OldValue    *string   `json:"old_value,omitempty"`
	NewValue    *string   `json:"new_value,omitempty"`
	Description string    `json:"description"`
	ClientID    string    `json:"client_id"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

type TaskType string

const (
	TaskUploadScreenshot TaskType = "UPLOAD_SCREENSHOT"
	TaskExecution        TaskType = "EXECUTION"
	TaskPhoneSignout     TaskType = "PHONE_SIGNOUT"
	TaskPhoneReturn      TaskType = "PHONE_RETURN"
	TaskProvideInfo      TaskType = "PROVIDE_INFO"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCancelled  TaskStatus = "CANCELLED"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskOverdue    TaskStatus = "OVERDUE"
)

// Open reports whether the task still needs work.
func (s TaskStatus) Open() bool {
	return s == TaskPending || s == TaskInProgress
}

// Task is a unit of follow-up work for the owning agent.
type Task struct {
	ID          string     `json:"id"`
	ClientID    string     `json:"client_id"`
	Type        TaskType   `json:"type" enum:"UPLOAD_SCREENSHOT,EXECUTION,PHONE_SIGNOUT,PHONE_RETURN,PROVIDE_INFO"`
	Status      TaskStatus `json:"status" enum:"PENDING,IN_PROGRESS,CANCELLED,COMPLETED,OVERDUE"`
	Title       string     `json:"title"`
	Platform    *string    `json:"platform,omitempty"`
	AssignedTo  *string    `json:"assigned_to,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty" format:"date-time"`
	CreatedAt   time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time  `json:"updated_at" format:"date-time"`
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time"`
}

type NotificationType string

const (
	NotificationApproval          NotificationType = "APPROVAL"
	NotificationRejection         NotificationType = "REJECTION"
	NotificationNeedsResubmission NotificationType = "NEEDS_RESUBMISSION"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Link      string           `json:"link,omitempty"`
	ReadAt    *time.Time       `json:"read_at,omitempty" format:"date-time"`
	CreatedAt time.Time        `json:"created_at" format:"date-time"`
}

type BonusPool struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleBackoffice Role = "backoffice"
	RoleAgent      Role = "agent"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleBackoffice || r == RoleAgent
}

// Actor is the caller of an engine operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// APIKey authenticates a non-interactive caller as a fixed actor.
type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"-"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}
