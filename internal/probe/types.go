package probe

import "strings"

// FormatInfo holds container-level metadata from ffprobe's format section.
type FormatInfo struct {
	Filename   string
	NbStreams  int
	FormatName string
	Duration   float64
	Size       int64
	BitRate    int64
	Tags       map[string]string
}

// Stream holds the parsed properties of one stream of any type.
type Stream struct {
	Index         int
	CodecType     string // "video", "audio", "subtitle", "data", "attachment".
	Codec         string
	Width         int
	Height        int
	IsAttachedPic bool
	Tags          map[string]string
}

// ProbeResult is the fully parsed output of a single ffprobe JSON call.
// PrimaryVideo is the first non-attached-pic video stream (nil if none).
// Data streams are not counted: stripping drops them on purpose.
type ProbeResult struct {
	Format       FormatInfo
	Streams      []Stream
	PrimaryVideo *Stream
	AudioCount   int
}

// identifyingTags are container or stream tag keys (lower-cased, prefix
// matched) that reveal device, location, person or creation time.
var identifyingTags = []string{
	"location",
	"com.apple.quicktime.location",
	"com.apple.quicktime.make",
	"com.apple.quicktime.model",
	"com.apple.quicktime.software",
	"com.apple.quicktime.creationdate",
	"com.android.manufacturer",
	"com.android.model",
	"make",
	"model",
	"artist",
	"author",
	"copyright",
	"comment",
	"creation_time",
	"encoded_by",
	"xmp",
}

// LeakedTags returns the identifying tag keys still present on the container
// or any stream, formatted as "format:key" or "stream N:key".
func (p *ProbeResult) LeakedTags() []string {
	var leaked []string
	for k := range p.Format.Tags {
		if isIdentifying(k) {
			leaked = append(leaked, "format:"+k)
		}
	}
	for _, s := range p.Streams {
		for k := range s.Tags {
			if isIdentifying(k) {
				leaked = append(leaked, "stream "+itoa(s.Index)+":"+k)
			}
		}
	}
	return leaked
}

func isIdentifying(key string) bool {
	k := strings.ToLower(key)
	for _, prefix := range identifyingTags {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// Resolution returns "WxH" for the primary video stream, or "unknown".
func (p *ProbeResult) Resolution() string {
	if p.PrimaryVideo == nil || p.PrimaryVideo.Width <= 0 || p.PrimaryVideo.Height <= 0 {
		return "unknown"
	}
	return itoa(p.PrimaryVideo.Width) + "x" + itoa(p.PrimaryVideo.Height)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
