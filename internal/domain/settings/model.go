package settings

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/healthqueue/healthqueue/internal/domain/queue"
)

type Notifications struct {
	QueueUpdates bool `json:"queueUpdates"`
	NewPatients  bool `json:"newPatients"`
	SystemAlerts bool `json:"systemAlerts"`
}

// Display controls the waiting-room board. RefreshInterval is in seconds.
type Display struct {
	AutoRefresh     bool `json:"autoRefresh"`
	RefreshInterval int  `json:"refreshInterval"`
	ShowPriority    bool `json:"showPriority"`
	MaxDisplayItems int  `json:"maxDisplayItems"`
}

type Queue struct {
	PriorityForSeniors  bool `json:"priorityForSeniors"`
	PriorityForPWD      bool `json:"priorityForPWD"`
	PriorityForPregnant bool `json:"priorityForPregnant"`
	AutoAdvance         bool `json:"autoAdvance"`
}

// System holds housekeeping options. DataRetention is in days.
type System struct {
	BackupFrequency string `json:"backupFrequency"`
	DataRetention   int    `json:"dataRetention"`
	AuditLog        bool   `json:"auditLog"`
}

// Settings is the clinic-wide configuration editable at runtime.
type Settings struct {
	Notifications Notifications `json:"notifications"`
	Display       Display       `json:"display"`
	Queue         Queue         `json:"queue"`
	System        System        `json:"system"`
}

func Defaults() Settings {
	return Settings{
		Notifications: Notifications{QueueUpdates: true, NewPatients: true, SystemAlerts: false},
		Display:       Display{AutoRefresh: true, RefreshInterval: 30, ShowPriority: true, MaxDisplayItems: 15},
		Queue:         Queue{PriorityForSeniors: true, PriorityForPWD: true, PriorityForPregnant: true},
		System:        System{BackupFrequency: "daily", DataRetention: 365, AuditLog: true},
	}
}

var backupFrequencies = map[string]bool{"hourly": true, "daily": true, "weekly": true}

// Validate checks value ranges. It returns the first violation found.
func (s Settings) Validate() error {
	switch {
	case s.Display.RefreshInterval < 5 || s.Display.RefreshInterval > 3600:
		return fmt.Errorf("%w: display.refreshInterval must be between 5 and 3600 seconds", ErrInvalid)
	case s.Display.MaxDisplayItems < 1 || s.Display.MaxDisplayItems > 100:
		return fmt.Errorf("%w: display.maxDisplayItems must be between 1 and 100", ErrInvalid)
	case s.System.DataRetention < 1 || s.System.DataRetention > 3650:
		return fmt.Errorf("%w: system.dataRetention must be between 1 and 3650 days", ErrInvalid)
	case !backupFrequencies[s.System.BackupFrequency]:
		return fmt.Errorf("%w: system.backupFrequency must be hourly, daily or weekly", ErrInvalid)
	}
	return nil
}

// Decode merges a stored document over the defaults; absent keys keep their
// default value.
func Decode(doc []byte) (Settings, error) {
	s := Defaults()
	if len(doc) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(doc, &s); err != nil {
		return Defaults(), fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func (s Settings) RefreshEvery() time.Duration {
	return time.Duration(s.Display.RefreshInterval) * time.Second
}

func (s Settings) Retention() time.Duration {
	return time.Duration(s.System.DataRetention) * 24 * time.Hour
}

// QueueView projects the settings the queue engine consumes.
func (s Settings) QueueView() queue.Settings {
	return queue.Settings{
		Rules: queue.Rules{
			PriorityForSeniors:  s.Queue.PriorityForSeniors,
			PriorityForPWD:      s.Queue.PriorityForPWD,
			PriorityForPregnant: s.Queue.PriorityForPregnant,
		},
		AutoRefresh:     s.Display.AutoRefresh,
		RefreshInterval: s.RefreshEvery(),
		QueueUpdates:    s.Notifications.QueueUpdates,
		SystemAlerts:    s.Notifications.SystemAlerts,
		MaxDisplayItems: s.Display.MaxDisplayItems,
		ShowPriority:    s.Display.ShowPriority,
	}
}
