package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateImportProfile(); err != nil {
		return err
	}
	if err := c.validateNaming(); err != nil {
		return err
	}
	if err := c.validateThresholds(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LibraryDir) == "" {
		return errors.New("paths.library_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":   c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval":  c.Workflow.ErrorRetryInterval,
		"workflow.staging_max_age_hours": c.Workflow.StagingMaxAgeHours,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}
	if c.Retry.BackoffSeconds <= 0 {
		return errors.New("retry.backoff_seconds must be positive")
	}
	if c.Retry.BackoffCap < c.Retry.BackoffSeconds {
		return errors.New("retry.backoff_cap_seconds must be at least retry.backoff_seconds")
	}
	return nil
}

func (c *Config) validateImportProfile() error {
	if len(c.ImportProfile.ModelExtensions) == 0 {
		return errors.New("import_profile.model_extensions must not be empty")
	}
	if c.ImportProfile.MaxNestingDepth > 10 {
		return errors.New("import_profile.max_nesting_depth must be 10 or less")
	}
	return nil
}

func (c *Config) validateNaming() error {
	if !strings.Contains(c.Naming.Template, "{title}") {
		return errors.New("naming.template must include the {title} variable")
	}
	for channel, tmpl := range c.Naming.ChannelOverrides {
		if !strings.Contains(tmpl, "{title}") {
			return fmt.Errorf("naming.channel_overrides[%s] must include the {title} variable", channel)
		}
	}
	return nil
}

func (c *Config) validateThresholds() error {
	unit := map[string]float64{
		"dedup.filename_similarity":     c.Dedup.FilenameSimilarity,
		"dedup.size_tolerance":          c.Dedup.SizeTolerance,
		"dedup.min_merge_confidence":    c.Dedup.MinMergeConfidence,
		"families.hash_overlap_threshold": c.Families.HashOverlapThreshold,
		"families.ai_min_confidence":      c.Families.AIMinConfidence,
	}
	for name, value := range unit {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if c.Families.HashOverlapThreshold >= c.Dedup.FilenameSimilarity {
		return errors.New("families.hash_overlap_threshold must be below dedup.filename_similarity")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
