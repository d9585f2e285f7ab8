// Package cleaner removes identifying metadata from files on disk.
//
// Each category has its own Cleaner:
//   - ImageCleaner: exiftool in-place strip, or in-process pixel re-save (image.go)
//   - VideoCleaner: ffmpeg remux or re-encode, verified with ffprobe (video.go)
//   - DocumentCleaner: PDF, OOXML and legacy OLE property sets (document.go, pdf.go, ooxml.go, ole.go)
//   - AudioCleaner: ID3, FLAC metadata blocks, or ffmpeg audio remux (audio.go)
//
// Cleaners never modify an original until the replacement has been written
// and verified in a sibling temp file. The result of every attempt is an
// Outcome carrying a Status, the Tier achieved and, on failure, an *Error
// whose Kind places it in the run report.
package cleaner
