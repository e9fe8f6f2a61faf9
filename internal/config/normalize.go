package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRemote()
	c.normalizeDispatch()
	c.normalizeFFmpeg()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		c.Paths.WorkspaceDir = defaultWorkspaceDir
	}
	if c.Paths.WorkspaceDir, err = expandPath(c.Paths.WorkspaceDir); err != nil {
		return fmt.Errorf("paths.workspace_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeRemote() {
	c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.BaseURL), "/")
	c.Remote.InstanceID = strings.TrimSpace(c.Remote.InstanceID)
	c.Remote.APIKey = strings.TrimSpace(c.Remote.APIKey)
	if c.Remote.InstanceID == "" {
		if value, ok := os.LookupEnv("MONTAGE_INSTANCE_ID"); ok {
			c.Remote.InstanceID = strings.TrimSpace(value)
		}
	}
	if c.Remote.APIKey == "" {
		if value, ok := os.LookupEnv("MONTAGE_API_KEY"); ok {
			c.Remote.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Remote.RequestTimeout <= 0 {
		c.Remote.RequestTimeout = defaultRemoteRequestTimeout
	}
	if c.Remote.DownloadTimeout <= 0 {
		c.Remote.DownloadTimeout = defaultRemoteDownloadTimeout
	}
	if c.Remote.UploadTimeout <= 0 {
		c.Remote.UploadTimeout = defaultRemoteUploadTimeout
	}
}

func (c *Config) normalizeDispatch() {
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = defaultDispatchWorkers
	}
	if c.Dispatch.PollDelay <= 0 {
		c.Dispatch.PollDelay = defaultPollDelay
	}
	if c.Dispatch.ClaimInterval <= 0 {
		c.Dispatch.ClaimInterval = defaultClaimInterval
	}
	if c.Dispatch.MaxPollAttempts <= 0 {
		c.Dispatch.MaxPollAttempts = defaultMaxPollAttempts
	}
	if c.Dispatch.MaxFailureAttempts <= 0 {
		c.Dispatch.MaxFailureAttempts = defaultMaxFailureAttempts
	}
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.FFmpegBinary = strings.TrimSpace(c.FFmpeg.FFmpegBinary)
	if c.FFmpeg.FFmpegBinary == "" {
		c.FFmpeg.FFmpegBinary = defaultFFmpegBinary
	}
	c.FFmpeg.FFprobeBinary = strings.TrimSpace(c.FFmpeg.FFprobeBinary)
	if c.FFmpeg.FFprobeBinary == "" {
		c.FFmpeg.FFprobeBinary = defaultFFprobeBinary
	}
	c.FFmpeg.SlicePreset = strings.TrimSpace(c.FFmpeg.SlicePreset)
	if c.FFmpeg.SlicePreset == "" {
		c.FFmpeg.SlicePreset = defaultSlicePreset
	}
	c.FFmpeg.MuxPreset = strings.TrimSpace(c.FFmpeg.MuxPreset)
	if c.FFmpeg.MuxPreset == "" {
		c.FFmpeg.MuxPreset = defaultMuxPreset
	}
	if c.FFmpeg.MuxCRF <= 0 {
		c.FFmpeg.MuxCRF = defaultMuxCRF
	}
	c.FFmpeg.AudioBitrate = strings.TrimSpace(c.FFmpeg.AudioBitrate)
	if c.FFmpeg.AudioBitrate == "" {
		c.FFmpeg.AudioBitrate = defaultAudioBitrate
	}
	if c.FFmpeg.StepTimeout <= 0 {
		c.FFmpeg.StepTimeout = defaultStepTimeout
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
