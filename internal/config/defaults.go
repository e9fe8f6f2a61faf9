package config

const (
	defaultDataDir      = "~/.local/share/montage"
	defaultWorkspaceDir = "~/.local/share/montage/workspace"
	defaultOutputDir    = "~/.local/share/montage/output"
	defaultLogDir       = "~/.local/share/montage/logs"
	defaultAPIBind      = "127.0.0.1:7842"

	defaultRemoteRequestTimeout  = 30
	defaultRemoteDownloadTimeout = 300
	defaultRemoteUploadTimeout   = 300

	defaultDispatchWorkers    = 4
	defaultPollDelay          = 30
	defaultClaimInterval      = 2
	defaultMaxPollAttempts    = 120
	defaultMaxFailureAttempts = 50

	defaultFFmpegBinary  = "ffmpeg"
	defaultFFprobeBinary = "ffprobe"
	defaultSlicePreset   = "ultrafast"
	defaultMuxPreset     = "veryfast"
	defaultMuxCRF        = 23
	defaultAudioBitrate  = "192k"
	defaultStepTimeout   = 1800

	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			WorkspaceDir: defaultWorkspaceDir,
			OutputDir:    defaultOutputDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Remote: Remote{
			RequestTimeout:  defaultRemoteRequestTimeout,
			DownloadTimeout: defaultRemoteDownloadTimeout,
			UploadTimeout:   defaultRemoteUploadTimeout,
		},
		Dispatch: Dispatch{
			Workers:            defaultDispatchWorkers,
			PollDelay:          defaultPollDelay,
			ClaimInterval:      defaultClaimInterval,
			MaxPollAttempts:    defaultMaxPollAttempts,
			MaxFailureAttempts: defaultMaxFailureAttempts,
		},
		FFmpeg: FFmpeg{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			SlicePreset:   defaultSlicePreset,
			MuxPreset:     defaultMuxPreset,
			MuxCRF:        defaultMuxCRF,
			AudioBitrate:  defaultAudioBitrate,
			StepTimeout:   defaultStepTimeout,
		},
		Workflow: Workflow{
			AutoPilot:          true,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
