package scheduler

import (
	"context"

	"automatosx/internal/memory"
	"automatosx/internal/session"
	"automatosx/internal/workspace"
)

// MaintenanceJobs builds the standard cleanup set. Nil services are
// skipped, so a disabled memory store simply drops its job.
func MaintenanceJobs(ws *workspace.Manager, sessions *session.Manager, store *memory.Store,
	tmpRetentionDays, sessionRetentionDays, memoryRetentionDays int) []Job {

	var jobs []Job

	if ws != nil {
		jobs = append(jobs, Job{
			Name: "workspace-tmp-cleanup",
			Run: func(ctx context.Context) (int, error) {
				return ws.CleanupTmp(tmpRetentionDays)
			},
		})
	}

	if sessions != nil {
		jobs = append(jobs, Job{
			Name: "session-cleanup",
			Run: func(ctx context.Context) (int, error) {
				return sessions.CleanupOldSessions(sessionRetentionDays), nil
			},
		})
	}

	if store != nil {
		jobs = append(jobs, Job{
			Name: "memory-cleanup",
			Run: func(ctx context.Context) (int, error) {
				return store.Cleanup(memoryRetentionDays)
			},
		})
	}

	return jobs
}
