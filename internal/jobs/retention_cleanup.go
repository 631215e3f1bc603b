package jobs

import (
	"context"
	"log"
	"time"

	"pathfinder/internal/database"
	"pathfinder/internal/services"

	"github.com/robfig/cron/v3"
)

// RetentionCleanupJob expires idle sessions and purges stale persisted
// snapshots on a cron schedule.
type RetentionCleanupJob struct {
	sessions    *services.SessionService
	snapshots   *database.SnapshotStore
	idleTimeout time.Duration
	retention   time.Duration
	schedule    cron.Schedule
}

// NewRetentionCleanupJob creates the retention job. snapshots may be nil
// when persistence is disabled; session expiry still runs.
func NewRetentionCleanupJob(sessions *services.SessionService, snapshots *database.SnapshotStore, idleTimeout time.Duration, cronSpec string) (*RetentionCleanupJob, error) {
	schedule, err := cron.ParseStandard(cronSpec)
	if err != nil {
		return nil, err
	}
	return &RetentionCleanupJob{
		sessions:    sessions,
		snapshots:   snapshots,
		idleTimeout: idleTimeout,
		retention:   30 * 24 * time.Hour,
		schedule:    schedule,
	}, nil
}

// Run expires idle sessions and purges snapshots past retention.
func (j *RetentionCleanupJob) Run(ctx context.Context) error {
	startTime := time.Now()

	expired := j.sessions.ExpireIdle(j.idleTimeout)
	if len(expired) > 0 {
		log.Printf("[RETENTION] Expired %d idle sessions", len(expired))
	}

	if j.snapshots != nil {
		purged, err := j.snapshots.PurgeOlderThan(ctx, j.retention)
		if err != nil {
			log.Printf("[RETENTION] Failed to purge stale snapshots: %v", err)
			return err
		}
		if purged > 0 {
			log.Printf("[RETENTION] Purged %d stale snapshots", purged)
		}
	}

	log.Printf("[RETENTION] Cleanup complete in %v", time.Since(startTime))
	return nil
}

// GetNextRunTime returns the next scheduled run per the cron spec.
func (j *RetentionCleanupJob) GetNextRunTime() time.Time {
	return j.schedule.Next(time.Now())
}
