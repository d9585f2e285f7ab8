package ffmpeg

// Mode is the video strategy currently in effect for a file.
type Mode int

const (
	ModeRemux Mode = iota
	ModeReencode
)

func (m Mode) String() string {
	if m == ModeReencode {
		return "re-encode"
	}
	return "remux"
}

// FallbackState tracks the single permitted downgrade for one file: a failed
// or unverifiable re-encode is retried once as a remux. Remux failures are
// final.
type FallbackState struct {
	Mode     Mode
	FellBack bool
	Reason   string
}

// NewFallbackState starts in re-encode mode when reencode is set.
func NewFallbackState(reencode bool) *FallbackState {
	if reencode {
		return &FallbackState{Mode: ModeReencode}
	}
	return &FallbackState{Mode: ModeRemux}
}

// Advance records why the current attempt failed and switches to remux if
// that has not happened yet. Returns false when no further attempt is allowed.
func (s *FallbackState) Advance(reason string) bool {
	if s.Mode != ModeReencode || s.FellBack {
		return false
	}
	s.Mode = ModeRemux
	s.FellBack = true
	s.Reason = reason
	return true
}
