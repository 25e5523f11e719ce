package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityPriority Priority = "priority"
)

// ParsePriority accepts the wire form of a priority, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityNormal:
		return PriorityNormal, nil
	case PriorityPriority:
		return PriorityPriority, nil
	}
	return "", fmt.Errorf("invalid priority: %q", s)
}

// rank orders priority bands; lower ranks are served first.
func (p Priority) rank() int {
	if p == PriorityPriority {
		return 0
	}
	return 1
}

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCalled    Status = "called"
	StatusServing   Status = "serving"
	StatusCompleted Status = "completed"
)

var validStatuses = map[Status]bool{
	StatusWaiting: true, StatusCalled: true, StatusServing: true, StatusCompleted: true,
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !validStatuses[st] {
		return "", fmt.Errorf("invalid queue status: %q", s)
	}
	return st, nil
}

// IsActive reports whether the entry still occupies a place on the board.
func (s Status) IsActive() bool {
	return s == StatusWaiting || s == StatusCalled || s == StatusServing
}

// Entry is one patient's position in the visit queue. PatientName is captured
// at enqueue time and is not re-synced when the patient record changes.
type Entry struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	PatientName string    `db:"patient_name" json:"patient_name"`
	QueueNumber int       `db:"queue_number" json:"queue_number"`
	Priority    Priority  `db:"priority" json:"priority"`
	Status      Status    `db:"status" json:"status"`
	Timestamp   time.Time `db:"created_at" json:"timestamp"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (e *Entry) clone() *Entry {
	c := *e
	return &c
}

// Board is the projection consumed by the display surface and the management UI.
type Board struct {
	Serving     []*Entry  `json:"serving"`
	Called      []*Entry  `json:"called"`
	Waiting     []*Entry  `json:"waiting"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Stats struct {
	Waiting         int `json:"waiting"`
	Called          int `json:"called"`
	Serving         int `json:"serving"`
	PriorityWaiting int `json:"priority"`
}

// Announcement is emitted once per entry entering the serving set.
type Announcement struct {
	EntryID     uuid.UUID `json:"entry_id"`
	QueueNumber int       `json:"queue_number"`
	PatientName string    `json:"patient_name"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

func newAnnouncement(e *Entry, at time.Time) Announcement {
	return Announcement{
		EntryID:     e.ID,
		QueueNumber: e.QueueNumber,
		PatientName: e.PatientName,
		Message:     fmt.Sprintf("Now serving number %d", e.QueueNumber),
		At:          at,
	}
}

type NotificationKind string

const (
	NotifyQueueUpdate NotificationKind = "queue_update"
	NotifySystemAlert NotificationKind = "system_alert"
)

type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Message string           `json:"message"`
	Reasons []string         `json:"reasons,omitempty"`
	At      time.Time        `json:"at"`
}

// PatientSnapshot is the subset of a patient record the engine needs.
type PatientSnapshot struct {
	ID             uuid.UUID
	DisplayName    string
	Age            *int
	MedicalHistory []string
}

// Actor identifies who performed an operation, for permission checks and audit.
type Actor struct {
	ID    string
	Email string
	Role  string
}

// CanAddPriority reports whether the actor may force priority at enqueue time
// or override an entry's priority.
func (a Actor) CanAddPriority() bool {
	return a.Role == "doctor" || a.Role == "admin"
}

// Settings is the engine's view of the clinic settings.
type Settings struct {
	Rules           Rules
	AutoRefresh     bool
	RefreshInterval time.Duration
	QueueUpdates    bool
	SystemAlerts    bool
	MaxDisplayItems int
	ShowPriority    bool
}
