package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateFFmpeg(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRemote() error {
	if c.Remote.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/montage/config.toml"
		}
		return fmt.Errorf("remote.base_url is required. Edit %s (create with 'montage config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Remote.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remote.base_url %q is not a valid URL", c.Remote.BaseURL)
	}
	if strings.TrimSpace(c.Remote.InstanceID) == "" {
		return errors.New("remote.instance_id is required. Set MONTAGE_INSTANCE_ID or edit the config file")
	}
	if strings.TrimSpace(c.Remote.APIKey) == "" {
		return errors.New("remote.api_key is required. Set MONTAGE_API_KEY or edit the config file")
	}
	return ensurePositiveMap(map[string]int{
		"remote.request_timeout":  c.Remote.RequestTimeout,
		"remote.download_timeout": c.Remote.DownloadTimeout,
		"remote.upload_timeout":   c.Remote.UploadTimeout,
	})
}

func (c *Config) validateDispatch() error {
	return ensurePositiveMap(map[string]int{
		"dispatch.workers":              c.Dispatch.Workers,
		"dispatch.poll_delay":           c.Dispatch.PollDelay,
		"dispatch.claim_interval":       c.Dispatch.ClaimInterval,
		"dispatch.max_poll_attempts":    c.Dispatch.MaxPollAttempts,
		"dispatch.max_failure_attempts": c.Dispatch.MaxFailureAttempts,
	})
}

func (c *Config) validateFFmpeg() error {
	if c.FFmpeg.MuxCRF < 0 || c.FFmpeg.MuxCRF > 51 {
		return errors.New("ffmpeg.mux_crf must be between 0 and 51")
	}
	return ensurePositiveMap(map[string]int{
		"ffmpeg.step_timeout": c.FFmpeg.StepTimeout,
	})
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
