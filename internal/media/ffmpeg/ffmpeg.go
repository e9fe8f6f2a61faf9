package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"montage/internal/config"
)

// CommandError reports a failed transcoder invocation together with the
// diagnostic output ffmpeg wrote to stderr.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		return fmt.Sprintf("ffmpeg %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("ffmpeg %s: %v: %s", strings.Join(e.Args, " "), e.Err, detail)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes one transcoder invocation. Tests substitute a stub.
type Runner func(ctx context.Context, binary string, args []string) error

func run(ctx context.Context, binary string, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// Client wraps the configured ffmpeg binary.
type Client struct {
	binary       string
	slicePreset  string
	muxPreset    string
	muxCRF       int
	audioBitrate string
	stepTimeout  time.Duration
	run          Runner
}

// New builds a Client from the ffmpeg configuration section.
func New(cfg config.FFmpeg) *Client {
	return &Client{
		binary:       cfg.FFmpegBinary,
		slicePreset:  cfg.SlicePreset,
		muxPreset:    cfg.MuxPreset,
		muxCRF:       cfg.MuxCRF,
		audioBitrate: cfg.AudioBitrate,
		stepTimeout:  time.Duration(cfg.StepTimeout) * time.Second,
		run:          run,
	}
}

// WithRunner substitutes the command runner (for testing).
func (c *Client) WithRunner(runner Runner) {
	c.run = runner
}

func (c *Client) exec(ctx context.Context, args []string) error {
	if c.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.stepTimeout)
		defer cancel()
	}
	return c.run(ctx, c.binary, args)
}

// ConcatCopy losslessly concatenates the files listed in listPath using the
// concat demuxer, without re-encoding.
func (c *Client) ConcatCopy(ctx context.Context, listPath, outputPath string) error {
	return c.exec(ctx, []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath,
	})
}

// SliceClip cuts a video-only sub-clip with a fast re-encode.
func (c *Client) SliceClip(ctx context.Context, source, start, duration, outputPath string) error {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(duration) == "" {
		return errors.New("ffmpeg slice: start and duration are required")
	}
	return c.exec(ctx, []string{
		"-y",
		"-ss", start,
		"-i", source,
		"-t", duration,
		"-an",
		"-vcodec", "libx264",
		"-preset", c.slicePreset,
		outputPath,
	})
}

// Mux combines the assembled video and audio tracks into the deliverable,
// truncating to the shorter of the two.
func (c *Client) Mux(ctx context.Context, videoPath, audioPath, outputPath string) error {
	return c.exec(ctx, []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "libx264",
		"-preset", c.muxPreset,
		"-crf", strconv.Itoa(c.muxCRF),
		"-c:a", "aac",
		"-b:a", c.audioBitrate,
		"-shortest",
		outputPath,
	})
}

// WriteConcatList writes a concat demuxer list file. Single quotes in paths
// are escaped per the demuxer's quoting rules.
func WriteConcatList(path string, files []string) error {
	if len(files) == 0 {
		return errors.New("ffmpeg concat list: no input files")
	}
	var builder strings.Builder
	for _, file := range files {
		escaped := strings.ReplaceAll(file, "'", `'\''`)
		fmt.Fprintf(&builder, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(path, []byte(builder.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}
