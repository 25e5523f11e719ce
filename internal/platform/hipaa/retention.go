package hipaa

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Resource types with a retention policy.
const (
	ResourceQueueEntry = "queue_entry"
	ResourceAuditLog   = "audit_log"
)

// AuditLogRetentionDays keeps the audit trail for seven years.
const AuditLogRetentionDays = 2555

// RetentionPolicy defines how long data of a specific type is kept before it
// is purged.
type RetentionPolicy struct {
	ResourceType  string `json:"resource_type"`
	RetentionDays int    `json:"retention_days"`
	Description   string `json:"description"`
}

// RetentionStatus represents the lifecycle state of a record.
type RetentionStatus struct {
	State      string    `json:"state"`
	ExpiresAt  time.Time `json:"expires_at"`
	PolicyName string    `json:"policy_name"`
}

const (
	RetentionStateActive        = "active"
	RetentionStatePurgeEligible = "purge_eligible"
)

// DefaultRetentionPolicies returns the clinic's policies. queueDays comes from
// the system.dataRetention setting.
func DefaultRetentionPolicies(queueDays int) []RetentionPolicy {
	return []RetentionPolicy{
		{
			ResourceType:  ResourceQueueEntry,
			RetentionDays: queueDays,
			Description:   "Completed queue entries, counted from their last update",
		},
		{
			ResourceType:  ResourceAuditLog,
			RetentionDays: AuditLogRetentionDays,
			Description:   "Audit trail: 7 years",
		},
	}
}

// Purger deletes records of one resource type older than cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgerFunc adapts a function to Purger.
type PurgerFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f PurgerFunc) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

// PurgeRecorder receives per-type purge counts for metrics.
type PurgeRecorder interface {
	Purged(resourceType string, n int64)
}

// RetentionService applies retention policies to registered purgers.
type RetentionService struct {
	mu       sync.RWMutex
	policies map[string]RetentionPolicy
	purgers  map[string]Purger
	recorder PurgeRecorder
	logger   zerolog.Logger
}

func NewRetentionService(policies []RetentionPolicy, logger zerolog.Logger) *RetentionService {
	policyMap := make(map[string]RetentionPolicy, len(policies))
	for _, p := range policies {
		policyMap[p.ResourceType] = p
	}
	return &RetentionService{
		policies: policyMap,
		purgers:  make(map[string]Purger),
		logger:   logger.With().Str("component", "retention-service").Logger(),
	}
}

func (s *RetentionService) SetRecorder(r PurgeRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// Register attaches the purger for resourceType, replacing any previous one.
func (s *RetentionService) Register(resourceType string, p Purger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgers[resourceType] = p
}

// SetRetentionDays changes a policy's window. Unknown types are ignored.
func (s *RetentionService) SetRetentionDays(resourceType string, days int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[resourceType]
	if !ok || p.RetentionDays == days {
		return
	}
	p.RetentionDays = days
	s.policies[resourceType] = p
	s.logger.Info().Str("resource_type", resourceType).Int("retention_days", days).Msg("retention policy updated")
}

// GetPolicy returns the retention policy for a resource type, or nil if not found.
func (s *RetentionService) GetPolicy(resourceType string) *RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[resourceType]
	if !ok {
		return nil
	}
	return &p
}

// GetAllPolicies returns all policies ordered by resource type.
func (s *RetentionService) GetAllPolicies() []RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]RetentionPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ResourceType < result[j].ResourceType })
	return result
}

// CheckRetention reports whether a record created at createdAt has outlived
// its policy at now.
func (s *RetentionService) CheckRetention(resourceType string, createdAt, now time.Time) RetentionStatus {
	policy := s.GetPolicy(resourceType)
	if policy == nil {
		return RetentionStatus{State: RetentionStateActive, PolicyName: "unknown"}
	}
	expiresAt := createdAt.AddDate(0, 0, policy.RetentionDays)
	state := RetentionStateActive
	if !now.Before(expiresAt) {
		state = RetentionStatePurgeEligible
	}
	return RetentionStatus{State: state, ExpiresAt: expiresAt, PolicyName: policy.ResourceType}
}

// RunPurge runs every registered purger that has a policy and returns the
// number of records removed per type. One failing type does not stop the
// others; their errors are joined.
func (s *RetentionService) RunPurge(ctx context.Context, now time.Time) (map[string]int64, error) {
	type job struct {
		policy RetentionPolicy
		purger Purger
	}
	s.mu.RLock()
	jobs := make([]job, 0, len(s.purgers))
	for rt, p := range s.purgers {
		if policy, ok := s.policies[rt]; ok {
			jobs = append(jobs, job{policy: policy, purger: p})
		}
	}
	recorder := s.recorder
	s.mu.RUnlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].policy.ResourceType < jobs[j].policy.ResourceType })

	counts := make(map[string]int64, len(jobs))
	var errs []error
	for _, j := range jobs {
		rt := j.policy.ResourceType
		cutoff := now.AddDate(0, 0, -j.policy.RetentionDays)
		n, err := j.purger.PurgeBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", rt, err))
			s.logger.Error().Err(err).Str("resource_type", rt).Msg("retention purge failed")
			continue
		}
		counts[rt] = n
		if recorder != nil {
			recorder.Purged(rt, n)
		}
		s.logger.Info().Str("resource_type", rt).Int64("purged", n).Time("cutoff", cutoff).Msg("retention purge complete")
	}
	return counts, errors.Join(errs...)
}
