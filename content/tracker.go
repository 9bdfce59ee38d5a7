package content

import (
	"io/fs"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type stepTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

// newStepTracker creates an analytics tracker for the calling step.
// Events are only sent when the caller identifies itself with a step ID.
func newStepTracker(stepId string, envRepo env.Repository, logger log.Logger) stepTracker {
	if stepId == "" {
		return stepTracker{logger: logger}
	}

	p := analytics.Properties{
		"step_id":  stepId,
		"project":  envRepo.Get("STASHBOX_PROJECT_ID"),
		"workflow": envRepo.Get("CI_WORKFLOW_NAME"),
	}
	return stepTracker{
		tracker: analytics.NewDefaultTracker(logger, p),
		logger:  logger,
	}
}

func (t *stepTracker) logArtifactUploaded(uploadTime time.Duration, info fs.FileInfo, compressed bool) {
	if t.tracker == nil {
		return
	}
	properties := analytics.Properties{
		"upload_time_s":     uploadTime.Truncate(time.Second).Seconds(),
		"upload_size_bytes": info.Size(),
		"compressed":        compressed,
	}
	t.tracker.Enqueue("step_artifact_uploaded", properties)
}

func (t *stepTracker) logUploadSkipped(path string) {
	if t.tracker == nil {
		return
	}
	properties := analytics.Properties{
		"path": path,
	}
	t.tracker.Enqueue("step_artifact_upload_skipped", properties)
}

func (t *stepTracker) logArtifactDownloaded(downloadTime time.Duration, info fs.FileInfo) {
	if t.tracker == nil {
		return
	}
	properties := analytics.Properties{
		"download_time_s":     downloadTime.Truncate(time.Second).Seconds(),
		"download_size_bytes": info.Size(),
	}
	t.tracker.Enqueue("step_artifact_downloaded", properties)
}

func (t *stepTracker) wait() {
	if t.tracker == nil {
		return
	}
	t.tracker.Wait()
}
