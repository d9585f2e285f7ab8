package cleaner

import (
	"errors"
	"fmt"

	"github.com/backmassage/metascrub/internal/classify"
)

// Status is the terminal state of one file.
type Status int

const (
	Cleaned Status = iota
	PartiallyCleaned
	Skipped
	Failed
)

// Statuses lists every status in report order.
var Statuses = []Status{Cleaned, PartiallyCleaned, Skipped, Failed}

func (s Status) String() string {
	switch s {
	case Cleaned:
		return "cleaned"
	case PartiallyCleaned:
		return "partial"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Tier describes how thoroughly the applied strategy removes metadata.
type Tier int

const (
	TierNone    Tier = iota // Nothing applied.
	TierReduced             // Container tags removed; streams or pixels copied or re-saved.
	TierHigh                // Full rewrite through a format-aware tool.
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierReduced:
		return "reduced"
	default:
		return "none"
	}
}

// Strategy names the concrete method used on a file.
type Strategy string

const (
	StrategyNone          Strategy = ""
	StrategyExifTool      Strategy = "exiftool"
	StrategyImageReencode Strategy = "image-reencode"
	StrategyVideoRemux    Strategy = "video-remux"
	StrategyVideoReencode Strategy = "video-reencode"
	StrategyPDF           Strategy = "pdf-rewrite"
	StrategyOOXML         Strategy = "ooxml-rewrite"
	StrategyOLE           Strategy = "ole-properties"
	StrategyID3           Strategy = "id3-strip"
	StrategyFLAC          Strategy = "flac-blocks"
	StrategyAudioRemux    Strategy = "audio-remux"
)

// Kind classifies why a file was not fully cleaned.
type Kind int

const (
	KindNone Kind = iota
	UnsupportedFormat
	ToolUnavailable
	IOError
	BackupFailure
	VerificationFailure
	EncryptedInput
)

func (k Kind) String() string {
	switch k {
	case UnsupportedFormat:
		return "unsupported-format"
	case ToolUnavailable:
		return "tool-unavailable"
	case IOError:
		return "io-error"
	case BackupFailure:
		return "backup-failure"
	case VerificationFailure:
		return "verification-failure"
	case EncryptedInput:
		return "encrypted-input"
	default:
		return "none"
	}
}

// Sentinel causes wrapped by Error.
var (
	ErrEncrypted       = errors.New("encrypted")
	ErrToolUnavailable = errors.New("required tool unavailable")
	ErrUnsupported     = errors.New("unsupported format")
)

// Error is a per-file failure with its taxonomy kind.
type Error struct {
	Kind Kind
	Op   string // e.g. "exiftool", "verify", "backup".
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, op, path, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, defaulting to IOError for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrEncrypted):
		return EncryptedInput
	case errors.Is(err, ErrToolUnavailable):
		return ToolUnavailable
	case errors.Is(err, ErrUnsupported):
		return UnsupportedFormat
	}
	return IOError
}

// Outcome is the single result recorded for one FileTask.
type Outcome struct {
	Task        classify.FileTask
	Status      Status
	Tier        Tier
	Strategy    Strategy
	BytesBefore int64
	BytesAfter  int64
	Err         error
	Notes       []string
	Projected   bool
	FellBack    bool // Re-encode failed and the remux fallback produced the result.
}

// Kind returns the failure kind, or KindNone.
func (o Outcome) Kind() Kind { return KindOf(o.Err) }

// Reclaimed returns bytes saved (negative when the file grew).
func (o Outcome) Reclaimed() int64 {
	if o.Status != Cleaned && o.Status != PartiallyCleaned {
		return 0
	}
	return o.BytesBefore - o.BytesAfter
}

// Fail builds a Failed outcome for task.
func Fail(task classify.FileTask, strategy Strategy, err error) Outcome {
	return Outcome{
		Task:        task,
		Status:      Failed,
		Strategy:    strategy,
		BytesBefore: task.Size,
		BytesAfter:  task.Size,
		Err:         err,
	}
}

// Skip builds a Skipped outcome for task.
func Skip(task classify.FileTask, reason string) Outcome {
	return Outcome{
		Task:        task,
		Status:      Skipped,
		BytesBefore: task.Size,
		BytesAfter:  task.Size,
		Err:         &Error{Kind: UnsupportedFormat, Path: task.Path, Err: ErrUnsupported},
		Notes:       []string{reason},
	}
}
