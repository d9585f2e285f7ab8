// Package ffmpeg builds the ffmpeg argument lists used to strip metadata from
// video and audio containers, classifies ffmpeg failures from stderr, and
// tracks the one-shot re-encode to remux fallback.
//
// Argument sets:
//   - RemuxArgs: stream copy of video, audio and subtitles; data streams,
//     cover art, attachments, chapters and all tags dropped.
//   - ReencodeArgs: per-container codec preset with the same stripping flags.
//   - AudioArgs: audio-only stream copy for non-native audio formats.
//
// Execution goes through internal/runner so callers control timeouts and
// process concurrency.
package ffmpeg
