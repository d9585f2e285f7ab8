// Package check probes the external tools a run can use (exiftool, ffmpeg,
// ffprobe) once per run, and renders the --check diagnostics.
package check

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/backmassage/metascrub/internal/runner"
)

// Sentinel errors describing a missing tool.
var (
	ErrExifToolNotFound = errors.New("exiftool not found on PATH")
	ErrFfmpegNotFound   = errors.New("ffmpeg not found on PATH")
	ErrFfprobeNotFound  = errors.New("ffprobe not found on PATH")
)

const probeTimeout = 15 * time.Second

// Logger is the minimal logging interface needed by RunCheck.
// Defined here (rather than importing the logging package) so that check
// remains dependency-light and testable with a mock logger.
type Logger interface {
	Info(string, ...interface{})
	Success(string, ...interface{})
	Warn(string, ...interface{})
	Error(string, ...interface{})
	Debug(string, ...interface{})
}

// Tool is the probed state of one external executable.
type Tool struct {
	Name      string
	Path      string
	Version   string
	Available bool
	Err       error
}

// Capabilities is the run-wide snapshot of external tool availability.
// It is computed once and shared read-only by every worker.
type Capabilities struct {
	ExifTool Tool
	FFmpeg   Tool
	FFprobe  Tool

	// Encoders lists ffmpeg encoder names; nil when they could not be listed.
	Encoders map[string]bool
}

// HasEncoder reports whether ffmpeg lists the named encoder. When the list
// is unknown it assumes yes and lets the run surface the failure.
func (c Capabilities) HasEncoder(name string) bool {
	if c.Encoders == nil {
		return c.FFmpeg.Available
	}
	return c.Encoders[name]
}

// Probe resolves each tool on PATH and asks it for a version. A tool that
// resolves but cannot report a version is treated as unavailable.
func Probe(ctx context.Context, r runner.Runner) Capabilities {
	caps := Capabilities{
		ExifTool: probeTool(ctx, r, "exiftool", ErrExifToolNotFound, "-ver"),
		FFmpeg:   probeTool(ctx, r, "ffmpeg", ErrFfmpegNotFound, "-hide_banner", "-version"),
		FFprobe:  probeTool(ctx, r, "ffprobe", ErrFfprobeNotFound, "-hide_banner", "-version"),
	}
	if caps.FFmpeg.Available {
		caps.Encoders = listEncoders(ctx, r)
	}
	return caps
}

func probeTool(ctx context.Context, r runner.Runner, name string, notFound error, args ...string) Tool {
	t := Tool{Name: name}
	p, err := r.LookPath(name)
	if err != nil {
		t.Err = notFound
		return t
	}
	t.Path = p
	res := r.Run(ctx, runner.Command{Name: name, Args: args, Timeout: probeTimeout})
	if !res.OK() {
		t.Err = res.Err
		return t
	}
	t.Version = firstLine(res.Stdout)
	t.Available = true
	return t
}

// listEncoders parses `ffmpeg -encoders`. Lines look like
// " V....D libx264              libx264 H.264 / AVC ...".
func listEncoders(ctx context.Context, r runner.Runner) map[string]bool {
	res := r.Run(ctx, runner.Command{Name: "ffmpeg", Args: []string{"-hide_banner", "-encoders"}, Timeout: probeTimeout})
	if !res.OK() {
		return nil
	}
	encoders := make(map[string]bool)
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 || strings.HasPrefix(fields[0], "-") {
			continue
		}
		switch fields[0][0] {
		case 'V', 'A', 'S':
			encoders[fields[1]] = true
		}
	}
	return encoders
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "\n"); idx > 0 {
		s = s[:idx]
	}
	return s
}

// RunCheck logs the --check diagnostics: each external tool, the encoders
// re-encoding depends on, and which strategies are in-process. Returns true
// when every external tool is available.
func RunCheck(caps Capabilities, log Logger) bool {
	log.Info("=== System Check ===")

	ok := true
	for _, t := range []Tool{caps.ExifTool, caps.FFmpeg, caps.FFprobe} {
		if t.Available {
			log.Success("%s: %s (%s)", t.Name, t.Version, t.Path)
			continue
		}
		ok = false
		if t.Path == "" {
			log.Error("%s not found", t.Name)
		} else {
			log.Warn("%s found at %s but did not run: %v", t.Name, t.Path, t.Err)
		}
	}

	if !caps.ExifTool.Available {
		log.Warn("Images: JPEG/PNG/TIFF/BMP/GIF re-saved in-process (reduced); WebP/HEIC/RAW cannot be cleaned")
	}
	if caps.FFmpeg.Available {
		log.Info("Re-encode encoders:")
		for _, enc := range []string{"libx264", "aac", "libvpx-vp9", "libopus", "mpeg2video", "mp2", "wmv2", "wmav2"} {
			if caps.HasEncoder(enc) {
				log.Info("  %s: yes", enc)
			} else {
				log.Warn("  %s: missing", enc)
			}
		}
	} else {
		log.Warn("Videos and non-MP3/FLAC audio cannot be cleaned without ffmpeg")
	}
	if !caps.FFprobe.Available {
		log.Warn("Video output cannot be verified without ffprobe; videos will fail")
	}

	log.Info("In-process: PDF, OOXML (docx/xlsx/pptx), legacy Office properties, MP3 ID3, FLAC")
	return ok
}
