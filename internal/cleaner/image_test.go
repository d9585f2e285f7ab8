package cleaner

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/metascrub/internal/classify"
	"github.com/backmassage/metascrub/internal/logging"
	"github.com/backmassage/metascrub/internal/runner"
	"github.com/backmassage/metascrub/internal/runner/runnertest"
)

func saveImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 90, A: 255})
	require.NoError(t, imaging.Save(img, path))
}

func newImageCleaner(r runner.Runner) *ImageCleaner {
	return &ImageCleaner{run: r, log: logging.Discard()}
}

func TestImage_Reencode(t *testing.T) {
	for _, format := range []string{"png", "jpeg", "gif", "bmp"} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			ext := format
			if format == "jpeg" {
				ext = "jpg"
			}
			path := filepath.Join(dir, "photo."+ext)
			saveImage(t, path, 64, 48)
			task := fileTask(t, path, classify.Image, format)

			o := newImageCleaner(&runnertest.Runner{}).Clean(context.Background(),
				Job{Task: task, Strategy: StrategyImageReencode, Tier: TierReduced})
			require.NoError(t, o.Err)
			assert.Equal(t, Cleaned, o.Status)
			assert.Equal(t, TierReduced, o.Tier)
			assert.Equal(t, StrategyImageReencode, o.Strategy)

			out, err := imaging.Open(path)
			require.NoError(t, err)
			assert.Equal(t, image.Pt(64, 48), out.Bounds().Size())
			noTemps(t, dir)
		})
	}
}

func TestImage_ReencodeUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.heic")
	writeFile(t, path, []byte("not really heic"))
	task := fileTask(t, path, classify.Image, "heic")

	o := newImageCleaner(&runnertest.Runner{}).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyImageReencode, Tier: TierReduced})
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, ToolUnavailable, o.Kind())
}

func TestImage_ExifTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.png")
	saveImage(t, path, 16, 16)
	task := fileTask(t, path, classify.Image, "png")

	r := &runnertest.Runner{}
	r.On("Run", mock.Anything, mock.MatchedBy(func(cmd runner.Command) bool {
		return cmd.Name == "exiftool" && cmd.Args[0] == "-all=" && filepath.Dir(cmd.Args[len(cmd.Args)-1]) == dir
	})).Return(runnertest.OK("")).Once()

	o := newImageCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyExifTool, Fallback: StrategyImageReencode, Tier: TierHigh})
	require.NoError(t, o.Err)
	assert.Equal(t, Cleaned, o.Status)
	assert.Equal(t, TierHigh, o.Tier)
	assert.Equal(t, StrategyExifTool, o.Strategy)
	assert.Equal(t, task.Size, o.BytesAfter)
	r.AssertExpectations(t)
	noTemps(t, dir)
}

func TestImage_ExifToolFailureFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.jpg")
	saveImage(t, path, 32, 20)
	task := fileTask(t, path, classify.Image, "jpeg")

	r := &runnertest.Runner{}
	r.On("Run", mock.Anything, runnertest.Tool("exiftool")).
		Return(runnertest.Fail(1, "Error: Corrupted JPEG")).Once()

	o := newImageCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyExifTool, Fallback: StrategyImageReencode, Tier: TierHigh})
	require.NoError(t, o.Err)
	assert.Equal(t, Cleaned, o.Status)
	assert.Equal(t, StrategyImageReencode, o.Strategy)
	assert.Equal(t, TierReduced, o.Tier)
	require.NotEmpty(t, o.Notes)
	assert.Contains(t, o.Notes[len(o.Notes)-1], "exiftool failed")
	r.AssertExpectations(t)
}

func TestImage_ExifToolMissingWithoutFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.webp")
	writeFile(t, path, []byte("RIFF....WEBP"))
	task := fileTask(t, path, classify.Image, "webp")

	r := &runnertest.Runner{}
	r.On("Run", mock.Anything, runnertest.Tool("exiftool")).
		Return(runner.Result{ExitCode: -1, Err: fmt.Errorf("exiftool: %w", runner.ErrNotFound)}).Once()

	o := newImageCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyExifTool, Tier: TierHigh})
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, ToolUnavailable, o.Kind())
	assert.Equal(t, StrategyExifTool, o.Strategy)
	noTemps(t, dir)
}

func TestImage_ExifToolUnreadableOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.png")
	writeFile(t, path, []byte("\x89PNG\r\n\x1a\n truncated"))
	task := fileTask(t, path, classify.Image, "png")

	r := &runnertest.Runner{}
	r.On("Run", mock.Anything, runnertest.Tool("exiftool")).Return(runnertest.OK("")).Once()

	o := newImageCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyExifTool, Tier: TierHigh})
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, VerificationFailure, o.Kind())
}

func TestVerifyEXIF_SkipsUnreadableFormats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	saveImage(t, path, 4, 4)
	assert.NoError(t, verifyEXIF(path, "png"))

	jpg := filepath.Join(dir, "a.jpg")
	saveImage(t, jpg, 4, 4)
	assert.NoError(t, verifyEXIF(jpg, "jpeg"), "a JPEG without EXIF passes")
}

// exifBlock builds a little-endian TIFF structure with camera make/model in
// IFD0 and a GPS IFD holding a latitude and longitude.
func exifBlock() []byte {
	le := binary.LittleEndian
	const (
		ascii    = 2
		long     = 4
		rational = 5
	)
	cameraMake, cameraModel := "Canon\x00", "EOS 5D\x00\x00"

	ifd0 := 8
	makeAt := ifd0 + 2 + 3*12 + 4
	modelAt := makeAt + len(cameraMake)
	gpsAt := modelAt + len(cameraModel)
	latAt := gpsAt + 2 + 4*12 + 4
	lonAt := latAt + 24

	var b bytes.Buffer
	w := func(v interface{}) { binary.Write(&b, le, v) }
	entry := func(tag, typ uint16, count, value uint32) { w(tag); w(typ); w(count); w(value) }

	b.WriteString("II")
	w(uint16(42))
	w(uint32(ifd0))

	w(uint16(3))
	entry(0x010F, ascii, uint32(len(cameraMake)), uint32(makeAt))
	entry(0x0110, ascii, uint32(len(cameraModel)), uint32(modelAt))
	entry(0x8825, long, 1, uint32(gpsAt))
	w(uint32(0))
	b.WriteString(cameraMake)
	b.WriteString(cameraModel)

	w(uint16(4))
	entry(0x0001, ascii, 2, uint32('N'))
	entry(0x0002, rational, 3, uint32(latAt))
	entry(0x0003, ascii, 2, uint32('E'))
	entry(0x0004, rational, 3, uint32(lonAt))
	w(uint32(0))
	for _, v := range []uint32{48, 1, 51, 1, 2400, 100, 2, 1, 17, 1, 4000, 100} {
		w(v)
	}
	return b.Bytes()
}

// saveGeotaggedJPEG writes a JPEG whose APP1 segment carries exifBlock.
func saveGeotaggedJPEG(t *testing.T, path string) {
	t.Helper()
	var enc bytes.Buffer
	img := imaging.New(40, 30, color.NRGBA{R: 10, G: 120, B: 200, A: 255})
	require.NoError(t, imaging.Encode(&enc, img, imaging.JPEG))
	raw := enc.Bytes()

	payload := append([]byte("Exif\x00\x00"), exifBlock()...)
	app1 := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(app1[2:], uint16(len(payload)+2))
	app1 = append(app1, payload...)

	var out bytes.Buffer
	out.Write(raw[:2])
	out.Write(app1)
	out.Write(raw[2:])
	writeFile(t, path, out.Bytes())

	x := readEXIF(t, path)
	require.NotNil(t, x, "fixture must carry EXIF")
	_, _, err := x.LatLong()
	require.NoError(t, err, "fixture must carry a GPS position")
}

// readEXIF returns the decoded EXIF block, or nil when the file has none.
func readEXIF(t *testing.T, path string) *exif.Exif {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	x, err := exif.Decode(f)
	if err != nil {
		return nil
	}
	return x
}

func assertNoLocationOrCamera(t *testing.T, path string) {
	t.Helper()
	x := readEXIF(t, path)
	if x == nil {
		return
	}
	for _, name := range []exif.FieldName{exif.GPSLatitude, exif.GPSLongitude, exif.Make, exif.Model} {
		_, err := x.Get(name)
		assert.Error(t, err, "%s must be gone", name)
	}
}

func TestVerifyEXIF_RejectsLocationAndCamera(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.jpg")
	saveGeotaggedJPEG(t, path)

	err := verifyEXIF(path, "jpeg")
	require.Error(t, err)
	assert.Equal(t, VerificationFailure, KindOf(err))
	assert.Contains(t, err.Error(), "GPSLatitude")
	assert.Contains(t, err.Error(), "Make")
}

func TestImage_ExifToolStripsGeotag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geo.jpg")
	saveGeotaggedJPEG(t, path)
	original, err := os.ReadFile(path)
	require.NoError(t, err)
	task := fileTask(t, path, classify.Image, "jpeg")

	// The scripted exiftool rewrites its target without the APP1 segment.
	r := &runnertest.Runner{}
	r.On("Run", mock.Anything, runnertest.Tool("exiftool")).Run(func(args mock.Arguments) {
		tmp := lastArg(args.Get(1).(runner.Command))
		img, err := imaging.Open(tmp)
		if err == nil {
			imaging.Save(img, tmp)
		}
	}).Return(runnertest.OK("")).Once()

	o := newImageCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyExifTool, Fallback: StrategyImageReencode, Tier: TierHigh})
	require.NoError(t, o.Err)
	assert.Equal(t, Cleaned, o.Status)
	assert.Equal(t, TierHigh, o.Tier)
	assertNoLocationOrCamera(t, path)

	cleaned, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, original, cleaned)
	r.AssertExpectations(t)
	noTemps(t, dir)
}

func TestImage_ExifToolLeakFallsBackToReencode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geo.jpg")
	saveGeotaggedJPEG(t, path)
	task := fileTask(t, path, classify.Image, "jpeg")

	// exiftool "succeeds" without touching the file.
	r := &runnertest.Runner{}
	r.On("Run", mock.Anything, runnertest.Tool("exiftool")).Return(runnertest.OK("")).Once()

	o := newImageCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyExifTool, Fallback: StrategyImageReencode, Tier: TierHigh})
	require.NoError(t, o.Err)
	assert.Equal(t, Cleaned, o.Status)
	assert.Equal(t, StrategyImageReencode, o.Strategy)
	assert.Equal(t, TierReduced, o.Tier)
	assertNoLocationOrCamera(t, path)
	r.AssertExpectations(t)
}

func TestImage_ReencodeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geo.jpg")
	saveGeotaggedJPEG(t, path)

	for pass := 1; pass <= 2; pass++ {
		task := fileTask(t, path, classify.Image, "jpeg")
		o := newImageCleaner(&runnertest.Runner{}).Clean(context.Background(),
			Job{Task: task, Strategy: StrategyImageReencode, Tier: TierReduced})
		require.NoError(t, o.Err, "pass %d", pass)
		assert.Equal(t, Cleaned, o.Status, "pass %d", pass)
		assertNoLocationOrCamera(t, path)
	}
	noTemps(t, dir)
}
