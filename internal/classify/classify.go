// Package classify maps discovered files to a cleaning category and format.
// The extension is the primary signal; extensions shared by several formats
// and files without an extension are resolved by sniffing content through a
// handle that leaves atime untouched. Classification never writes.
package classify

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/backmassage/metascrub/internal/fsutil"
)

// Category groups formats that share a cleaning strategy.
type Category int

const (
	Unknown Category = iota
	Image
	Video
	Document
	Audio
)

// Categories lists every category in report order.
var Categories = []Category{Image, Video, Document, Audio, Unknown}

func (c Category) String() string {
	switch c {
	case Image:
		return "image"
	case Video:
		return "video"
	case Document:
		return "document"
	case Audio:
		return "audio"
	default:
		return "unknown"
	}
}

// FileTask is one file scheduled for cleaning. It is immutable after
// classification.
type FileTask struct {
	Path     string // Absolute, symlink-resolved path.
	RelPath  string // Path relative to the run root (backup layout key).
	Category Category
	Format   string // Sub-type: "jpeg", "pdf", "docx", "doc", "mp3", ...
	Size     int64
}

type entry struct {
	category Category
	format   string
}

// extensions is the primary lookup. Archives are deliberately absent.
var extensions = map[string]entry{
	".jpg":  {Image, "jpeg"},
	".jpeg": {Image, "jpeg"},
	".png":  {Image, "png"},
	".webp": {Image, "webp"},
	".tif":  {Image, "tiff"},
	".tiff": {Image, "tiff"},
	".bmp":  {Image, "bmp"},
	".gif":  {Image, "gif"},
	".heic": {Image, "heic"},
	".heif": {Image, "heic"},
	".raw":  {Image, "raw"},
	".cr2":  {Image, "cr2"},
	".nef":  {Image, "nef"},
	".dng":  {Image, "dng"},

	".mp4":  {Video, "mp4"},
	".mov":  {Video, "mov"},
	".m4v":  {Video, "m4v"},
	".mkv":  {Video, "mkv"},
	".avi":  {Video, "avi"},
	".webm": {Video, "webm"},
	".flv":  {Video, "flv"},
	".wmv":  {Video, "wmv"},
	".mpg":  {Video, "mpeg"},
	".mpeg": {Video, "mpeg"},

	".pdf":  {Document, "pdf"},
	".docx": {Document, "docx"},
	".xlsx": {Document, "xlsx"},
	".pptx": {Document, "pptx"},

	".mp3":  {Audio, "mp3"},
	".m4a":  {Audio, "m4a"},
	".flac": {Audio, "flac"},
	".wav":  {Audio, "wav"},
	".ogg":  {Audio, "ogg"},
	".wma":  {Audio, "wma"},
	".aac":  {Audio, "aac"},
	".opus": {Audio, "opus"},
}

// ambiguous extensions need a content check before a strategy is chosen:
// legacy Office names also hold OOXML or saved HTML, and .ts is shared by
// MPEG transport streams and TypeScript sources.
var ambiguous = map[string]bool{
	".doc": true,
	".xls": true,
	".ppt": true,
	".ts":  true,
}

// Classify builds the FileTask for path. Unrecognized content yields a task
// with Category Unknown and a nil error; only a failed content read returns
// an error.
func Classify(path, relPath string, size int64) (FileTask, error) {
	task := FileTask{Path: path, RelPath: relPath, Size: size}
	ext := strings.ToLower(filepath.Ext(path))

	if e, ok := extensions[ext]; ok {
		task.Category, task.Format = e.category, e.format
		return task, nil
	}
	if ext != "" && !ambiguous[ext] {
		return task, nil
	}

	mime, err := detect(path)
	if err != nil {
		return task, fmt.Errorf("sniff %s: %w", path, err)
	}
	e := resolve(ext, mime)
	task.Category, task.Format = e.category, e.format
	return task, nil
}

func detect(path string) (*mimetype.MIME, error) {
	f, err := fsutil.OpenNoAtime(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return mimetype.DetectReader(f)
}

// resolve picks the entry for a sniffed file. For an ambiguous extension the
// content must agree with one of its meanings; for a missing extension the
// detected type's canonical extension is looked up.
func resolve(ext string, mime *mimetype.MIME) entry {
	switch ext {
	case ".doc", ".xls", ".ppt":
		if isOLE(mime) {
			return entry{Document, strings.TrimPrefix(ext, ".")}
		}
		if e, ok := ooxml(mime); ok {
			return e
		}
		return entry{}
	case ".ts":
		if mime.Is("video/mp2t") {
			return entry{Video, "ts"}
		}
		return entry{}
	}

	if isOLE(mime) {
		switch {
		case mime.Is("application/msword"):
			return entry{Document, "doc"}
		case mime.Is("application/vnd.ms-excel"):
			return entry{Document, "xls"}
		case mime.Is("application/vnd.ms-powerpoint"):
			return entry{Document, "ppt"}
		}
		return entry{}
	}
	if mime.Is("video/mp2t") {
		return entry{Video, "ts"}
	}
	for m := mime; m != nil; m = m.Parent() {
		if e, ok := extensions[m.Extension()]; ok {
			return e
		}
	}
	return entry{}
}

func isOLE(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("application/x-ole-storage") {
			return true
		}
	}
	return false
}

func ooxml(mime *mimetype.MIME) (entry, bool) {
	switch mime.Extension() {
	case ".docx":
		return entry{Document, "docx"}, true
	case ".xlsx":
		return entry{Document, "xlsx"}, true
	case ".pptx":
		return entry{Document, "pptx"}, true
	}
	return entry{}, false
}
