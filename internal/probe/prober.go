package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/backmassage/metascrub/internal/runner"
)

// ErrNoStreams is returned when ffprobe parses a file that holds no streams.
var ErrNoStreams = errors.New("no streams")

// Probe runs a single ffprobe JSON call against path and returns the
// parsed result.
func Probe(ctx context.Context, r runner.Runner, path string, timeout time.Duration) (*ProbeResult, error) {
	res := r.Run(ctx, runner.Command{
		Name: "ffprobe",
		Args: []string{
			"-v", "error",
			"-print_format", "json",
			"-show_format", "-show_streams",
			path,
		},
		Timeout: timeout,
	})
	if !res.OK() {
		return nil, fmt.Errorf("ffprobe %q: %w", path, res.Err)
	}
	return ParseJSON([]byte(res.Stdout))
}

// ParseJSON converts raw ffprobe JSON output into a ProbeResult.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	return buildResult(&raw), nil
}

// DurationMatches reports whether got is within max(1s, 2%) of want. An
// unknown source duration (zero) always matches.
func DurationMatches(want, got float64) bool {
	if want <= 0 {
		return true
	}
	tolerance := math.Max(1.0, want*0.02)
	return math.Abs(want-got) <= tolerance
}

// Verify checks a rewritten media file against its source probe: the output
// must parse, hold at least one stream, keep the source duration within
// tolerance, keep the primary video and every audio stream, and carry no
// identifying tags.
func Verify(src, out *ProbeResult) error {
	if len(out.Streams) == 0 {
		return ErrNoStreams
	}
	if src != nil {
		if !DurationMatches(src.Format.Duration, out.Format.Duration) {
			return fmt.Errorf("duration %.2fs differs from source %.2fs", out.Format.Duration, src.Format.Duration)
		}
		if src.PrimaryVideo != nil && out.PrimaryVideo == nil {
			return fmt.Errorf("%s video stream missing from output", src.Resolution())
		}
		if out.AudioCount < src.AudioCount {
			return fmt.Errorf("output has %d audio streams, source has %d", out.AudioCount, src.AudioCount)
		}
	}
	if leaked := out.LeakedTags(); len(leaked) > 0 {
		return fmt.Errorf("identifying tags remain: %s", strings.Join(leaked, ", "))
	}
	return nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string            `json:"filename"`
	NbStreams  int               `json:"nb_streams"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

type ffprobeStream struct {
	Index       int               `json:"index"`
	CodecName   string            `json:"codec_name"`
	CodecType   string            `json:"codec_type"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Disposition map[string]int    `json:"disposition"`
	Tags        map[string]string `json:"tags"`
}

// --- Conversion from wire types to domain types ---

func buildResult(raw *ffprobeOutput) *ProbeResult {
	pr := &ProbeResult{
		Format: FormatInfo{
			Filename:   raw.Format.Filename,
			NbStreams:  raw.Format.NbStreams,
			FormatName: raw.Format.FormatName,
			Duration:   parseFloat(raw.Format.Duration),
			Size:       parseInt64(raw.Format.Size),
			BitRate:    parseInt64(raw.Format.BitRate),
			Tags:       raw.Format.Tags,
		},
	}

	for i := range raw.Streams {
		s := &raw.Streams[i]
		st := Stream{
			Index:         s.Index,
			CodecType:     s.CodecType,
			Codec:         s.CodecName,
			Width:         s.Width,
			Height:        s.Height,
			IsAttachedPic: s.Disposition["attached_pic"] == 1,
			Tags:          s.Tags,
		}
		pr.Streams = append(pr.Streams, st)
		switch s.CodecType {
		case "video":
			if !st.IsAttachedPic && pr.PrimaryVideo == nil {
				v := st
				pr.PrimaryVideo = &v
			}
		case "audio":
			pr.AudioCount++
		}
	}
	return pr
}

// --- Numeric parsing helpers (ffprobe returns numbers as strings) ---

func parseInt64(s string) int64 {
	s = strings.TrimSpace(s)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
