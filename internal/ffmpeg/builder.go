package ffmpeg

// Preset is the per-container codec selection for a full re-encode.
type Preset struct {
	Video     []string
	Audio     []string
	Subtitles []string // Empty means subtitles are dropped.
}

// Encoders lists the ffmpeg encoder names the preset requires.
func (p Preset) Encoders() []string {
	var names []string
	for _, args := range [][]string{p.Video, p.Audio} {
		for i := 0; i+1 < len(args); i++ {
			if args[i] == "-c:v" || args[i] == "-c:a" {
				names = append(names, args[i+1])
			}
		}
	}
	return names
}

var (
	h264Video = []string{"-c:v", "libx264", "-preset", "slow", "-crf", "18", "-pix_fmt", "yuv420p"}
	aacAudio  = []string{"-c:a", "aac", "-b:a", "192k"}
)

// presets is keyed by the classifier's video format.
var presets = map[string]Preset{
	"mp4":  {Video: h264Video, Audio: aacAudio, Subtitles: []string{"-c:s", "mov_text"}},
	"mov":  {Video: h264Video, Audio: aacAudio, Subtitles: []string{"-c:s", "mov_text"}},
	"m4v":  {Video: h264Video, Audio: aacAudio, Subtitles: []string{"-c:s", "mov_text"}},
	"mkv":  {Video: h264Video, Audio: aacAudio, Subtitles: []string{"-c:s", "copy"}},
	"avi":  {Video: h264Video, Audio: aacAudio},
	"flv":  {Video: h264Video, Audio: aacAudio},
	"ts":   {Video: h264Video, Audio: aacAudio},
	"webm": {Video: []string{"-c:v", "libvpx-vp9", "-crf", "30", "-b:v", "0"}, Audio: []string{"-c:a", "libopus", "-b:a", "128k"}},
	"wmv":  {Video: []string{"-c:v", "wmv2", "-q:v", "2"}, Audio: []string{"-c:a", "wmav2", "-b:a", "192k"}},
	"mpeg": {Video: []string{"-c:v", "mpeg2video", "-q:v", "2"}, Audio: []string{"-c:a", "mp2", "-b:a", "192k"}},
}

// PresetFor returns the re-encode preset for a video format.
func PresetFor(format string) (Preset, bool) {
	p, ok := presets[format]
	return p, ok
}

// faststartFormats get the moov atom moved to the front on remux.
var faststartFormats = map[string]bool{"mp4": true, "mov": true, "m4v": true, "m4a": true}

// muxers pins the output muxer so temp files with an unexpected or missing
// extension are still written in the source container format.
var muxers = map[string]string{
	"mp4": "mp4", "mov": "mov", "m4v": "mp4", "mkv": "matroska", "avi": "avi",
	"webm": "webm", "flv": "flv", "ts": "mpegts", "wmv": "asf", "mpeg": "mpeg",
	"m4a": "ipod", "wav": "wav", "ogg": "ogg", "opus": "opus", "wma": "asf",
	"aac": "adts", "mp3": "mp3", "flac": "flac",
}

// output appends the container flags and the output path.
func output(args []string, format, path string) []string {
	if faststartFormats[format] {
		args = append(args, "-movflags", "+faststart")
	}
	if m, ok := muxers[format]; ok {
		args = append(args, "-f", m)
	}
	return append(args, path)
}

// preamble is shared by every invocation.
func preamble(input string) []string {
	return []string{"-hide_banner", "-nostdin", "-y", "-loglevel", "error", "-i", input}
}

// stripFlags drop container and stream tags, chapters (which carry titles),
// and the muxer's own encoder/version stamp.
var stripFlags = []string{"-map_metadata", "-1", "-map_chapters", "-1", "-fflags", "+bitexact"}

// RemuxArgs copies video, audio and subtitle streams unchanged into a new
// container of the same format. Cover art (attached pictures), data streams
// such as GPS telemetry, and attachments are not mapped.
func RemuxArgs(input, out, format string) []string {
	args := make([]string, 0, 32)
	args = append(args, preamble(input)...)
	args = append(args,
		"-map", "0:V?",
		"-map", "0:a?",
		"-map", "0:s?",
		"-dn",
		"-c", "copy",
	)
	args = append(args, stripFlags...)
	return output(args, format, out)
}

// ReencodeArgs decodes and re-encodes every kept stream with the container's
// preset. The second return is false when the format has no preset.
func ReencodeArgs(input, out, format string) ([]string, bool) {
	p, ok := PresetFor(format)
	if !ok {
		return nil, false
	}
	args := make([]string, 0, 48)
	args = append(args, preamble(input)...)
	args = append(args, "-map", "0:V?", "-map", "0:a?")
	if len(p.Subtitles) > 0 {
		args = append(args, "-map", "0:s?")
		args = append(args, p.Subtitles...)
	} else {
		args = append(args, "-sn")
	}
	args = append(args, "-dn")
	args = append(args, p.Video...)
	args = append(args, p.Audio...)
	args = append(args, stripFlags...)
	args = append(args, "-flags:v", "+bitexact", "-flags:a", "+bitexact")
	return output(args, format, out), true
}

// AudioArgs copies audio streams only, dropping tags and embedded cover art.
func AudioArgs(input, out, format string) []string {
	args := make([]string, 0, 24)
	args = append(args, preamble(input)...)
	args = append(args, "-map", "0:a", "-c", "copy")
	args = append(args, stripFlags...)
	return output(args, format, out)
}
