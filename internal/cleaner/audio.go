package cleaner

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/go-flac"

	"github.com/backmassage/metascrub/internal/ffmpeg"
	"github.com/backmassage/metascrub/internal/runner"
)

// id3v1Size is the fixed length of an ID3v1 trailer starting with "TAG".
const id3v1Size = 128

// AudioCleaner removes tags and embedded cover art from audio files.
type AudioCleaner struct {
	run  runner.Runner
	opts Options
	log  Logger
}

func (c *AudioCleaner) Clean(ctx context.Context, job Job) Outcome {
	path := job.Task.Path
	var (
		after int64
		err   error
		notes []string
	)
	switch job.Strategy {
	case StrategyID3:
		var removed bool
		after, err = rewrite(path, true, func(tmp string) error {
			var err error
			removed, err = stripID3(tmp)
			return err
		})
		if err == nil && !removed {
			notes = append(notes, "no tags present")
		}
	case StrategyFLAC:
		var removed int
		after, err = rewrite(path, false, func(tmp string) error {
			var err error
			removed, err = stripFLAC(path, tmp)
			return err
		})
		if err == nil && removed == 0 {
			notes = append(notes, "no tags present")
		}
	case StrategyAudioRemux:
		after, err = rewrite(path, false, func(tmp string) error {
			cmd := runner.Command{
				Name:    "ffmpeg",
				Args:    ffmpeg.AudioArgs(path, tmp, job.Task.Format),
				Timeout: c.opts.ToolTimeout,
			}
			c.log.Debug("%s", cmd)
			if res := c.run.Run(ctx, cmd); !res.OK() {
				return ffmpegError(path, res)
			}
			return nil
		})
	default:
		err = Errorf(UnsupportedFormat, "audio", path, "no audio strategy %q", job.Strategy)
	}
	if err != nil {
		return Fail(job.Task, job.Strategy, ioError(string(job.Strategy), path, err))
	}
	return done(job, Cleaned, after, notes...)
}

// stripID3 removes every ID3v2 frame (cover art included) and any ID3v1
// trailer from the MP3 at path. Reports whether anything was removed.
func stripID3(path string) (bool, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return false, err
	}
	removed := tag.HasFrames()
	tag.DeleteAllFrames()
	if err := tag.Save(); err != nil {
		tag.Close()
		return false, err
	}
	if err := tag.Close(); err != nil {
		return false, err
	}

	v1, err := stripID3v1(path)
	return removed || v1, err
}

// stripID3v1 truncates a trailing 128-byte "TAG" block.
func stripID3v1(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	if fi.Size() < id3v1Size {
		return false, nil
	}
	head := make([]byte, 3)
	if _, err := f.ReadAt(head, fi.Size()-id3v1Size); err != nil && err != io.EOF {
		return false, err
	}
	if !bytes.Equal(head, []byte("TAG")) {
		return false, nil
	}
	return true, f.Truncate(fi.Size() - id3v1Size)
}

// stripFLAC copies the FLAC at in to out without VORBIS_COMMENT and PICTURE
// blocks. Returns the number of blocks removed.
func stripFLAC(in, out string) (int, error) {
	f, err := flac.ParseFile(in)
	if err != nil {
		return 0, err
	}

	kept := f.Meta[:0]
	removed := 0
	for _, block := range f.Meta {
		switch block.Type {
		case flac.VorbisComment, flac.Picture:
			removed++
		default:
			kept = append(kept, block)
		}
	}
	f.Meta = kept
	return removed, f.Save(out)
}
