package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"accel-sched/internal/logging"

	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*RuntimeConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*RuntimeConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	// Expand environment variables
	expanded := expandEnvVars(originalContent)

	var config RuntimeConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	// Set KeyName for each group based on the YAML key
	for keyName, group := range config.Groups {
		group.KeyName = keyName
		config.Groups[keyName] = group
	}

	if err := validateConfig(&config); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return &config, originalContent, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func validateConfig(config *RuntimeConfig) error {
	if config.Scheduler.Name == "" {
		return fmt.Errorf("scheduler name is required")
	}

	if config.Scheduler.Policy != "" && config.Scheduler.Policy != "round_robin" {
		return fmt.Errorf("unknown scheduling policy %q", config.Scheduler.Policy)
	}

	if config.Scheduler.MaxT <= 0 {
		return fmt.Errorf("max_t must be greater than 0")
	}

	if len(config.Groups) == 0 {
		return fmt.Errorf("at least one network group must be defined")
	}

	// InfluxDB export is optional, but when configured it must be complete.
	if db := config.Data.DB; db != nil {
		if db.Host == "" || db.Name == "" || db.User == "" || db.Password == "" || db.Org == "" {
			return fmt.Errorf("incomplete database configuration")
		}
	}

	for name, group := range config.Groups {
		if len(group.Networks) == 0 {
			return fmt.Errorf("group %s: at least one network must be defined", name)
		}

		seen := make(map[string]bool)
		for networkName, network := range group.Networks {
			if len(network.Inputs) == 0 {
				return fmt.Errorf("group %s: network %s has no input streams", name, networkName)
			}
			if network.TimeoutMS < 0 {
				return fmt.Errorf("group %s: network %s has a negative timeout", name, networkName)
			}
			if network.Frames < 0 {
				return fmt.Errorf("group %s: network %s has a negative frame budget", name, networkName)
			}
			for _, stream := range append(append([]string(nil), network.Inputs...), network.Outputs...) {
				if seen[stream] {
					return fmt.Errorf("group %s: duplicate stream name %q", name, stream)
				}
				seen[stream] = true
			}
		}
	}

	return nil
}
