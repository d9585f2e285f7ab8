package ffmpeg

import (
	"regexp"
	"strings"
)

// Problem is a coarse classification of an ffmpeg failure.
type Problem int

const (
	ProblemUnknown         Problem = iota
	ProblemEncoderMissing          // Requested encoder not compiled in.
	ProblemCorruptInput            // Input cannot be demuxed or decoded.
	ProblemCodecUnsupported        // Stream codec not allowed in the output container.
	ProblemNoSpace                 // Disk full while writing output.
	ProblemPermission              // Output path not writable.
)

func (p Problem) String() string {
	switch p {
	case ProblemEncoderMissing:
		return "encoder missing"
	case ProblemCorruptInput:
		return "corrupt or unreadable input"
	case ProblemCodecUnsupported:
		return "codec not supported by container"
	case ProblemNoSpace:
		return "no space left on device"
	case ProblemPermission:
		return "permission denied"
	default:
		return "ffmpeg failed"
	}
}

// Pre-compiled regexes for classifying ffmpeg stderr output. Checked in
// order by [Classify]; the first match wins.
var (
	reNoSpace = regexp.MustCompile(`(?i)No space left on device`)

	rePermission = regexp.MustCompile(`(?i)Permission denied|Read-only file system`)

	reEncoderMissing = regexp.MustCompile(
		`(?i)Unknown encoder|Encoder not found|` +
			`Error while opening encoder|Automatic encoder selection failed`)

	reCodecUnsupported = regexp.MustCompile(
		`(?i)Could not find tag for codec|` +
			`codec not currently supported in container|` +
			`Subtitle encoding currently only possible from text to text or bitmap to bitmap|` +
			`Codec .* is not supported`)

	reCorruptInput = regexp.MustCompile(
		`(?i)Invalid data found when processing input|moov atom not found|` +
			`EBML header parsing failed|Error opening input|` +
			`could not find codec parameters|End of file`)
)

// Classify maps ffmpeg stderr to a Problem.
func Classify(stderr string) Problem {
	switch {
	case reNoSpace.MatchString(stderr):
		return ProblemNoSpace
	case rePermission.MatchString(stderr):
		return ProblemPermission
	case reEncoderMissing.MatchString(stderr):
		return ProblemEncoderMissing
	case reCodecUnsupported.MatchString(stderr):
		return ProblemCodecUnsupported
	case reCorruptInput.MatchString(stderr):
		return ProblemCorruptInput
	}
	return ProblemUnknown
}

// Summary returns the most informative stderr line: the last line matching
// any known pattern, else the last non-empty line.
func Summary(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if Classify(lines[i]) != ProblemUnknown {
			return strings.TrimSpace(lines[i])
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
