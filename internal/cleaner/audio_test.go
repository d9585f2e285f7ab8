package cleaner

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/go-flac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/metascrub/internal/classify"
	"github.com/backmassage/metascrub/internal/logging"
	"github.com/backmassage/metascrub/internal/runner"
	"github.com/backmassage/metascrub/internal/runner/runnertest"
)

var mp3Frames = bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x64, 0x00, 0x00}, 64)

func newAudioCleaner(r runner.Runner) *AudioCleaner {
	return &AudioCleaner{run: r, log: logging.Discard()}
}

func id3v1Trailer() []byte {
	tag := make([]byte, id3v1Size)
	copy(tag, "TAG")
	copy(tag[3:], "Secret Song")
	copy(tag[33:], "Alice Example")
	return tag
}

// --- ID3 ---

func TestID3_StripsBothVersions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.mp3")
	writeFile(t, path, mp3Frames)

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	tag.SetArtist("Alice Example")
	tag.SetTitle("Secret Song")
	tag.AddCommentFrame(id3v2.CommentFrame{Encoding: id3v2.EncodingUTF8, Language: "eng", Text: "recorded at home"})
	require.NoError(t, tag.Save())
	require.NoError(t, tag.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(id3v1Trailer())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	task := fileTask(t, path, classify.Audio, "mp3")
	o := newAudioCleaner(&runnertest.Runner{}).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyID3, Tier: TierHigh})
	require.NoError(t, o.Err)
	assert.Equal(t, Cleaned, o.Status)
	assert.Empty(t, o.Notes)
	assert.Equal(t, int64(len(mp3Frames)), o.BytesAfter)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, mp3Frames, got, "only the audio frames remain")
	noTemps(t, dir)
}

func TestID3_UntaggedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.mp3")
	writeFile(t, path, mp3Frames)
	task := fileTask(t, path, classify.Audio, "mp3")

	o := newAudioCleaner(&runnertest.Runner{}).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyID3, Tier: TierHigh})
	require.NoError(t, o.Err)
	assert.Equal(t, Cleaned, o.Status)
	assert.Equal(t, []string{"no tags present"}, o.Notes)
}

func TestStripID3v1_ShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.mp3")
	writeFile(t, path, []byte("TAG"))
	removed, err := stripID3v1(path)
	require.NoError(t, err)
	assert.False(t, removed)
}

// --- FLAC ---

func flacBlock(last bool, typ flac.BlockType, data []byte) []byte {
	hdr := make([]byte, 4)
	hdr[0] = byte(typ)
	if last {
		hdr[0] |= 0x80
	}
	hdr[1] = byte(len(data) >> 16)
	hdr[2] = byte(len(data) >> 8)
	hdr[3] = byte(len(data))
	return append(hdr, data...)
}

func streamInfo() []byte {
	info := make([]byte, 34)
	binary.BigEndian.PutUint16(info[0:], 4096)
	binary.BigEndian.PutUint16(info[2:], 4096)
	// 44.1 kHz, stereo, 16-bit, 44100 samples.
	packed := uint64(44100)<<44 | uint64(1)<<41 | uint64(15)<<36 | 44100
	binary.BigEndian.PutUint64(info[10:], packed)
	return info
}

func vorbisComment(vendor string, comments ...string) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, uint32(len(vendor)))
	b.WriteString(vendor)
	binary.Write(&b, binary.LittleEndian, uint32(len(comments)))
	for _, c := range comments {
		binary.Write(&b, binary.LittleEndian, uint32(len(c)))
		b.WriteString(c)
	}
	return b.Bytes()
}

func TestFLAC_DropsCommentsAndPictures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.flac")
	frames := append([]byte{0xFF, 0xF8, 0x69, 0x08}, bytes.Repeat([]byte{0x5A}, 60)...)

	var raw bytes.Buffer
	raw.WriteString("fLaC")
	raw.Write(flacBlock(false, flac.StreamInfo, streamInfo()))
	raw.Write(flacBlock(false, flac.VorbisComment, vorbisComment("reference libFLAC 1.4.3", "ARTIST=Alice Example", "TITLE=Secret")))
	raw.Write(flacBlock(false, flac.Picture, []byte("front cover jpeg bytes")))
	raw.Write(flacBlock(true, flac.Padding, make([]byte, 16)))
	raw.Write(frames)
	writeFile(t, path, raw.Bytes())
	task := fileTask(t, path, classify.Audio, "flac")

	o := newAudioCleaner(&runnertest.Runner{}).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyFLAC, Tier: TierHigh})
	require.NoError(t, o.Err)
	assert.Equal(t, Cleaned, o.Status)
	assert.Empty(t, o.Notes)
	assert.Greater(t, o.Reclaimed(), int64(0))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(got), "Alice")
	assert.NotContains(t, string(got), "front cover")
	assert.True(t, bytes.HasSuffix(got, frames), "audio frames are kept")

	f, err := flac.ParseFile(path)
	require.NoError(t, err)
	var kinds []flac.BlockType
	for _, b := range f.Meta {
		kinds = append(kinds, b.Type)
	}
	assert.Equal(t, []flac.BlockType{flac.StreamInfo, flac.Padding}, kinds)
	noTemps(t, dir)
}

func TestFLAC_NotFLAC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake.flac")
	writeFile(t, path, []byte("RIFF not flac at all"))
	task := fileTask(t, path, classify.Audio, "flac")

	o := newAudioCleaner(&runnertest.Runner{}).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyFLAC, Tier: TierHigh})
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, IOError, o.Kind())
	noTemps(t, dir)
}

// --- Remux ---

func TestAudioRemux(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.m4a")
	writeFile(t, path, []byte("m4a with cover art and tags"))
	task := fileTask(t, path, classify.Audio, "m4a")

	r := &runnertest.Runner{}
	r.On("Run", mock.Anything, mock.MatchedBy(func(cmd runner.Command) bool {
		return cmd.Name == "ffmpeg" && hasArg(cmd, "0:a") && hasArg(cmd, "ipod")
	})).Run(writesOutput).Return(runnertest.OK("")).Once()

	o := newAudioCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyAudioRemux, Tier: TierHigh})
	require.NoError(t, o.Err)
	assert.Equal(t, Cleaned, o.Status)
	assert.Equal(t, StrategyAudioRemux, o.Strategy)
	r.AssertExpectations(t)
	noTemps(t, dir)
}

func TestAudioRemux_FFmpegMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.ogg")
	writeFile(t, path, []byte("OggS"))
	task := fileTask(t, path, classify.Audio, "ogg")

	r := &runnertest.Runner{}
	r.On("Run", mock.Anything, runnertest.Tool("ffmpeg")).
		Return(runner.Result{ExitCode: -1, Err: runner.ErrNotFound}).Once()

	o := newAudioCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyAudioRemux, Tier: TierHigh})
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, ToolUnavailable, o.Kind())

	got, _ := os.ReadFile(path)
	assert.Equal(t, "OggS", string(got))
}
