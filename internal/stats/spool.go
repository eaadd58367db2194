package stats

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunArtifact is the self-contained record of one scheduler run, spooled to
// disk so results survive a missing or unreachable database.
type RunArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID         string `json:"run_id"`
	SchedulerName string `json:"scheduler_name"`
	Policy        string `json:"policy"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content"`

	Groups      map[string]GroupStats `json:"groups"`
	Activations []ActivationEvent     `json:"activations"`
	IdleGuards  int                   `json:"idle_guards"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("ACCEL_SCHED_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteRunArtifact writes a gzip-compressed JSON artifact to disk
// atomically. It returns the final file path.
func WriteRunArtifact(dir string, artifact *RunArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("run artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf(
		"run_%s_%s.json.gz",
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		artifact.RunID,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// BuildRunArtifact constructs a run artifact from the recorder state.
func BuildRunArtifact(
	recorder *Recorder,
	schedulerName, policy, configContent string,
	startTime, endTime time.Time,
) *RunArtifact {
	return &RunArtifact{
		Version:       1,
		CreatedAt:     time.Now(),
		RunID:         recorder.RunID(),
		SchedulerName: schedulerName,
		Policy:        policy,
		StartTime:     startTime,
		EndTime:       endTime,
		ConfigContent: configContent,
		Groups:        recorder.Snapshot(),
		Activations:   recorder.Activations(),
		IdleGuards:    recorder.IdleGuardCount(),
	}
}
