package planner

import (
	"fmt"
	"strings"

	"github.com/backmassage/metascrub/internal/check"
	"github.com/backmassage/metascrub/internal/classify"
	"github.com/backmassage/metascrub/internal/cleaner"
	"github.com/backmassage/metascrub/internal/ffmpeg"
)

// BuildPlan produces the Plan for one task. This is the central decision
// matrix the pipeline calls for every file, in real and dry runs alike.
//
// Flow:
//  1. Unknown category: skip
//  2. Pick the category strategy from format and tool availability
//  3. Record the tier, the expected status and the single fallback
func BuildPlan(task classify.FileTask, caps check.Capabilities, opts Options) *Plan {
	plan := &Plan{Task: task, Status: cleaner.Cleaned}

	switch task.Category {
	case classify.Image:
		planImage(plan, caps)
	case classify.Video:
		planVideo(plan, caps, opts)
	case classify.Document:
		planDocument(plan)
	case classify.Audio:
		planAudio(plan, caps)
	default:
		plan.Blocker = &cleaner.Error{Kind: cleaner.UnsupportedFormat, Path: task.Path, Err: cleaner.ErrUnsupported}
	}
	return plan
}

func planImage(plan *Plan, caps check.Capabilities) {
	format := plan.Task.Format
	reencodable := cleaner.Reencodable(format)

	switch {
	case caps.ExifTool.Available && cleaner.ExifToolWritable(format):
		plan.Strategy = cleaner.StrategyExifTool
		plan.Tier = cleaner.TierHigh
		if reencodable {
			plan.Fallback = cleaner.StrategyImageReencode
		}
	case reencodable:
		plan.Strategy = cleaner.StrategyImageReencode
		plan.Tier = cleaner.TierReduced
		if cleaner.ExifToolWritable(format) {
			plan.Notes = append(plan.Notes, "exiftool unavailable; pixels re-saved in-process")
		}
	default:
		plan.Strategy = cleaner.StrategyExifTool
		plan.Blocker = unavailable(plan.Task.Path, "exiftool", fmt.Sprintf("%s images need exiftool", format))
	}
}

func planVideo(plan *Plan, caps check.Capabilities, opts Options) {
	plan.Strategy = cleaner.StrategyVideoRemux
	plan.Tier = cleaner.TierReduced

	switch {
	case !caps.FFmpeg.Available:
		plan.Blocker = unavailable(plan.Task.Path, "ffmpeg", "videos need ffmpeg")
		return
	case !caps.FFprobe.Available:
		plan.Blocker = unavailable(plan.Task.Path, "ffprobe", "video output cannot be verified without ffprobe")
		return
	}

	if !opts.ReencodeVideos {
		return
	}
	preset, ok := ffmpeg.PresetFor(plan.Task.Format)
	if !ok {
		plan.Notes = append(plan.Notes, "no re-encode preset for "+plan.Task.Format+"; remuxing")
		return
	}
	var missing []string
	for _, enc := range preset.Encoders() {
		if !caps.HasEncoder(enc) {
			missing = append(missing, enc)
		}
	}
	if len(missing) > 0 {
		plan.Notes = append(plan.Notes, "encoder "+strings.Join(missing, ", ")+" missing; remuxing")
		return
	}
	plan.Strategy = cleaner.StrategyVideoReencode
	plan.Fallback = cleaner.StrategyVideoRemux
	plan.Tier = cleaner.TierHigh
}

func planDocument(plan *Plan) {
	plan.Tier = cleaner.TierHigh
	switch plan.Task.Format {
	case "pdf":
		plan.Strategy = cleaner.StrategyPDF
	case "docx", "xlsx", "pptx":
		plan.Strategy = cleaner.StrategyOOXML
	case "doc", "xls", "ppt":
		plan.Strategy = cleaner.StrategyOLE
		plan.Tier = cleaner.TierReduced
		plan.Status = cleaner.PartiallyCleaned
		plan.Notes = append(plan.Notes, "legacy binary format: only property sets can be blanked")
	default:
		plan.Tier = cleaner.TierNone
		plan.Blocker = &cleaner.Error{Kind: cleaner.UnsupportedFormat, Path: plan.Task.Path, Err: cleaner.ErrUnsupported}
	}
}

func planAudio(plan *Plan, caps check.Capabilities) {
	plan.Tier = cleaner.TierHigh
	switch plan.Task.Format {
	case "mp3":
		plan.Strategy = cleaner.StrategyID3
	case "flac":
		plan.Strategy = cleaner.StrategyFLAC
	default:
		plan.Strategy = cleaner.StrategyAudioRemux
		if !caps.FFmpeg.Available {
			plan.Blocker = unavailable(plan.Task.Path, "ffmpeg", plan.Task.Format+" audio needs ffmpeg")
		}
	}
}

func unavailable(path, tool, detail string) error {
	return cleaner.Errorf(cleaner.ToolUnavailable, tool, path, "%s: %w", detail, cleaner.ErrToolUnavailable)
}
