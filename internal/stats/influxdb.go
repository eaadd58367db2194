package stats

import (
	"context"
	"fmt"
	"time"

	"accel-sched/internal/config"
	"accel-sched/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

func NewInfluxDBClient(cfg config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Password)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}
	if health.Status != "pass" {
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Name,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Name),
		bucket:   cfg.Name,
		org:      cfg.Org,
	}, nil
}

// ExportRun writes one point per activation interval plus a summary point
// per group, tagged by run ID so overlapping runs stay separable.
func (c *InfluxDBClient) ExportRun(ctx context.Context, artifact *RunArtifact) error {
	if artifact == nil {
		return fmt.Errorf("run artifact is nil")
	}

	points := make([]*write.Point, 0, len(artifact.Activations)+len(artifact.Groups))

	for _, ev := range artifact.Activations {
		points = append(points, influxdb2.NewPoint(
			"scheduler_activation",
			map[string]string{
				"run_id": artifact.RunID,
				"group":  ev.Group,
			},
			map[string]interface{}{
				"handle":       int64(ev.Handle),
				"residency_us": ev.Residency.Microseconds(),
			},
			ev.StartedAt,
		))
	}

	for name, gs := range artifact.Groups {
		points = append(points, influxdb2.NewPoint(
			"scheduler_group_summary",
			map[string]string{
				"run_id": artifact.RunID,
				"group":  name,
			},
			map[string]interface{}{
				"activations":        int64(gs.Activations),
				"timeouts_fired":     int64(gs.TimeoutsFired),
				"frames_written":     int64(gs.FramesWritten),
				"frames_read":        int64(gs.FramesRead),
				"stream_aborts":      int64(gs.StreamAborts),
				"total_residency_us": gs.TotalResidency.Microseconds(),
			},
			artifact.EndTime,
		))
	}

	if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write run points: %w", err)
	}
	return nil
}

func (c *InfluxDBClient) Close() {
	c.client.Close()
}
