package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"accel-sched/internal/config"
	"accel-sched/internal/device"
	"accel-sched/internal/logging"
	"accel-sched/internal/metrics"
	"accel-sched/internal/scheduler"
	"accel-sched/internal/stats"
	"accel-sched/internal/workload"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "0.2.0"

// multiObserver fans scheduler events out to the recorder and the metrics
// emitter.
type multiObserver []scheduler.Observer

func (m multiObserver) GroupActivated(h scheduler.Handle, g string) {
	for _, o := range m {
		o.GroupActivated(h, g)
	}
}

func (m multiObserver) GroupDeactivated(h scheduler.Handle, g string, d time.Duration) {
	for _, o := range m {
		o.GroupDeactivated(h, g, d)
	}
}

func (m multiObserver) TimeoutFired(h scheduler.Handle, g string) {
	for _, o := range m {
		o.TimeoutFired(h, g)
	}
}

func (m multiObserver) FrameWritten(h scheduler.Handle, g, s string) {
	for _, o := range m {
		o.FrameWritten(h, g, s)
	}
}

func (m multiObserver) FrameRead(h scheduler.Handle, g, s string) {
	for _, o := range m {
		o.FrameRead(h, g, s)
	}
}

func (m multiObserver) StreamAborted(h scheduler.Handle, g, s string) {
	for _, o := range m {
		o.StreamAborted(h, g, s)
	}
}

func (m multiObserver) IdleEntered() {
	for _, o := range m {
		o.IdleEntered()
	}
}

func (m multiObserver) IdleExited() {
	for _, o := range m {
		o.IdleExited()
	}
}

// buildDescriptor maps one YAML group onto a device descriptor.
func buildDescriptor(group config.GroupConfig) device.Descriptor {
	desc := device.Descriptor{
		Name:         group.KeyName,
		MaxBatchSize: group.BatchSize,
		MultiContext: group.MultiContext,
	}

	networkNames := make([]string, 0, len(group.Networks))
	for name := range group.Networks {
		networkNames = append(networkNames, name)
	}
	sort.Strings(networkNames)

	for _, networkName := range networkNames {
		network := group.Networks[networkName]
		info := device.NetworkInfo{Name: networkName}
		for _, stream := range network.Inputs {
			info.Streams = append(info.Streams, device.StreamInfo{
				Name:      stream,
				Direction: device.HostToDevice,
			})
		}
		for _, stream := range network.Outputs {
			info.Streams = append(info.Streams, device.StreamInfo{
				Name:      stream,
				Direction: device.DeviceToHost,
			})
		}
		desc.Networks = append(desc.Networks, info)
	}
	return desc
}

func runScheduler(configFile string) error {
	logger := logging.GetLogger()

	cfg, configContent, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		return err
	}
	if cfg.Scheduler.LogLevel != "" {
		if err := logging.SetSchedulerLogLevel(cfg.Scheduler.LogLevel); err != nil {
			return fmt.Errorf("invalid scheduler log level: %w", err)
		}
	}

	policy := cfg.Scheduler.Policy
	if policy == "" {
		policy = "round_robin"
	}

	sched := scheduler.NewRoundRobinScheduler()
	recorder := stats.NewRecorder()
	observers := multiObserver{recorder}

	if cfg.Metrics.Listen != "" {
		registry := prometheus.NewRegistry()
		metricsObs, err := metrics.NewSchedulerObserver(registry)
		if err != nil {
			return err
		}
		observers = append(observers, metricsObs)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			logger.WithField("listen", cfg.Metrics.Listen).Info("Serving Prometheus metrics")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Warn("Metrics server stopped")
			}
		}()
		defer server.Close()
	}
	sched.SetObserver(observers)

	dev := device.NewSimDevice(time.Duration(cfg.Device.ActivationLatencyMS) * time.Millisecond)

	var specs []workload.StreamSpec
	for _, group := range cfg.GetGroupsSorted() {
		handle, err := sched.Register(dev.Group(buildDescriptor(group)))
		if err != nil {
			return fmt.Errorf("failed to register group %s: %w", group.KeyName, err)
		}

		for networkName, network := range group.Networks {
			if network.Threshold > 0 {
				if err := sched.SetThreshold(handle, network.Threshold, networkName); err != nil {
					return fmt.Errorf("failed to set threshold for %s/%s: %w", group.KeyName, networkName, err)
				}
			}
			if network.TimeoutMS > 0 {
				if err := sched.SetTimeout(handle, network.GetTimeout(), networkName); err != nil {
					return fmt.Errorf("failed to set timeout for %s/%s: %w", group.KeyName, networkName, err)
				}
			}

			for _, stream := range network.Inputs {
				specs = append(specs, workload.StreamSpec{
					Handle: handle,
					Group:  group.KeyName,
					Stream: stream,
					Input:  true,
					Frames: network.Frames,
				})
			}
			for _, stream := range network.Outputs {
				specs = append(specs, workload.StreamSpec{
					Handle: handle,
					Group:  group.KeyName,
					Stream: stream,
					Frames: network.Frames,
				})
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetMaxDuration())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Info("Received signal, stopping run")
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.WithFields(logrus.Fields{
		"scheduler": cfg.Scheduler.Name,
		"policy":    policy,
		"groups":    len(cfg.Groups),
		"streams":   len(specs),
		"max_t":     cfg.Scheduler.MaxT,
	}).Info("Starting scheduler run")

	startTime := time.Now()
	runner := workload.NewRunner(sched, specs)
	runner.Start(ctx)

	<-ctx.Done()
	runner.Stop()
	runner.Wait()
	endTime := time.Now()

	logger.WithFields(logrus.Fields{
		"frames_moved": runner.FramesMoved(),
		"duration":     endTime.Sub(startTime).Round(time.Millisecond).String(),
	}).Info("Scheduler run finished")

	for name, gs := range recorder.Snapshot() {
		logger.WithFields(logrus.Fields{
			"group":          name,
			"activations":    gs.Activations,
			"frames_written": gs.FramesWritten,
			"frames_read":    gs.FramesRead,
			"timeouts":       gs.TimeoutsFired,
			"residency":      gs.TotalResidency.Round(time.Millisecond).String(),
		}).Info("Group summary")
	}

	artifact := stats.BuildRunArtifact(recorder, cfg.Scheduler.Name, policy, configContent, startTime, endTime)

	spoolPath, err := stats.WriteRunArtifact(cfg.Data.Spool, artifact)
	if err != nil {
		logger.WithError(err).Warn("Failed to spool run artifact")
	} else {
		logger.WithField("path", spoolPath).Info("Spooled run artifact")
	}

	if cfg.Data.DB != nil {
		client, err := stats.NewInfluxDBClient(*cfg.Data.DB)
		if err != nil {
			logger.WithError(err).Warn("Skipping InfluxDB export")
			return nil
		}
		defer client.Close()

		exportCtx, exportCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer exportCancel()
		if err := client.ExportRun(exportCtx, artifact); err != nil {
			logger.WithError(err).Warn("Failed to export run to InfluxDB")
			return nil
		}
		logger.WithField("run_id", artifact.RunID).Info("Exported run to InfluxDB")
	}

	return nil
}

func validateConfigFile(configFile string) error {
	logger := logging.GetLogger()
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"scheduler": cfg.Scheduler.Name,
		"groups":    len(cfg.Groups),
	}).Info("Configuration is valid")
	return nil
}

func main() {
	// .env is optional; it carries InfluxDB credentials referenced from
	// the YAML config via ${VAR} expansion.
	_ = godotenv.Load()

	var configFile string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:     "accel-sched",
		Short:   "Host-side network group scheduler for a time-multiplexed AI accelerator",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "scheduler.yaml", "Path to the scheduler configuration")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler against the simulated device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(configFile)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a scheduler configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfigFile(configFile)
		},
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)

	if err := rootCmd.Execute(); err != nil {
		logging.GetLogger().WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
