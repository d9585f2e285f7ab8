package cleaner

import (
	"context"
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"

	"github.com/backmassage/metascrub/internal/fsutil"
	"github.com/backmassage/metascrub/internal/runner"
)

// exiftoolWritable lists the image formats exiftool can rewrite.
var exiftoolWritable = map[string]bool{
	"jpeg": true, "png": true, "tiff": true, "webp": true, "gif": true,
	"heic": true, "raw": true, "cr2": true, "nef": true, "dng": true,
}

// encoders maps formats the in-process fallback can write back.
var encoders = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"png":  imaging.PNG,
	"tiff": imaging.TIFF,
	"bmp":  imaging.BMP,
	"gif":  imaging.GIF,
}

// decodable formats can be opened in-process to confirm exiftool left a
// readable image behind.
var decodable = map[string]bool{
	"jpeg": true, "png": true, "tiff": true, "bmp": true, "gif": true, "webp": true,
}

// exifReadable formats carry a TIFF-structured EXIF block goexif can parse.
var exifReadable = map[string]bool{"jpeg": true, "tiff": true}

// ExifToolWritable reports whether exiftool can strip format in place.
func ExifToolWritable(format string) bool { return exiftoolWritable[format] }

// Reencodable reports whether format can be decoded and re-encoded in-process.
func Reencodable(format string) bool {
	_, ok := encoders[format]
	return ok
}

// ImageCleaner strips image metadata with exiftool, or re-saves the decoded
// pixels when exiftool is unavailable or fails.
type ImageCleaner struct {
	run  runner.Runner
	opts Options
	log  Logger
}

func (c *ImageCleaner) Clean(ctx context.Context, job Job) Outcome {
	path := job.Task.Path
	switch job.Strategy {
	case StrategyExifTool:
		after, err := rewrite(path, true, func(tmp string) error {
			return c.exiftool(ctx, tmp, job.Task.Format)
		})
		if err == nil {
			return done(job, Cleaned, after)
		}
		if job.Fallback != StrategyImageReencode || ctx.Err() != nil {
			return Fail(job.Task, job.Strategy, err)
		}
		c.log.Warn("exiftool failed on %s, re-saving pixels instead: %v", path, err)
		fb := Job{Task: job.Task, Strategy: StrategyImageReencode, Tier: TierReduced}
		o := c.reencode(fb)
		o.Notes = append(o.Notes, "exiftool failed; pixels re-saved in-process")
		return o
	case StrategyImageReencode:
		return c.reencode(job)
	}
	return Fail(job.Task, job.Strategy, Errorf(UnsupportedFormat, "image", path, "no image strategy %q", job.Strategy))
}

func (c *ImageCleaner) exiftool(ctx context.Context, tmp, format string) error {
	res := c.run.Run(ctx, runner.Command{
		Name:    "exiftool",
		Args:    []string{"-all=", "-ThumbnailImage=", "-PreviewImage=", "-overwrite_original", "-q", tmp},
		Timeout: c.opts.ToolTimeout,
	})
	if !res.OK() {
		return toolError("exiftool", tmp, res)
	}
	if decodable[format] {
		if _, err := imaging.Open(tmp); err != nil {
			return Errorf(VerificationFailure, "verify", tmp, "exiftool output unreadable: %w", err)
		}
	}
	return verifyEXIF(tmp, format)
}

func (c *ImageCleaner) reencode(job Job) Outcome {
	path := job.Task.Path
	format, ok := encoders[job.Task.Format]
	if !ok {
		return Fail(job.Task, StrategyImageReencode, Errorf(ToolUnavailable, "image", path,
			"%s needs exiftool: %w", job.Task.Format, ErrToolUnavailable))
	}

	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return Fail(job.Task, job.Strategy, &Error{Kind: IOError, Op: "decode", Path: path, Err: err})
	}

	after, err := rewrite(path, false, func(tmp string) error {
		f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		if err := imaging.Encode(f, src, format, imaging.JPEGQuality(95)); err != nil {
			f.Close()
			return &Error{Kind: IOError, Op: "encode", Path: path, Err: err}
		}
		if err := f.Close(); err != nil {
			return err
		}
		out, err := imaging.Open(tmp)
		if err != nil {
			return Errorf(VerificationFailure, "verify", path, "re-encoded image unreadable: %v", err)
		}
		if out.Bounds().Size() != src.Bounds().Size() {
			return Errorf(VerificationFailure, "verify", path, "dimensions changed from %v to %v",
				src.Bounds().Size(), out.Bounds().Size())
		}
		return verifyEXIF(tmp, job.Task.Format)
	})
	if err != nil {
		return Fail(job.Task, job.Strategy, ioError("reencode", path, err))
	}
	return done(job, Cleaned, after)
}

// verifyEXIF fails when a GPS position or camera make/model survives in the
// file's EXIF block. Formats goexif cannot read pass unchecked.
func verifyEXIF(path, format string) error {
	if !exifReadable[format] {
		return nil
	}
	f, err := fsutil.OpenNoAtime(path)
	if err != nil {
		return &Error{Kind: IOError, Op: "verify", Path: path, Err: err}
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil || x == nil {
		return nil
	}
	var leaked []exif.FieldName
	for _, name := range []exif.FieldName{exif.GPSLatitude, exif.GPSLongitude, exif.Make, exif.Model} {
		if _, err := x.Get(name); err == nil {
			leaked = append(leaked, name)
		}
	}
	if len(leaked) > 0 {
		return &Error{Kind: VerificationFailure, Op: "verify", Path: path,
			Err: fmt.Errorf("EXIF fields remain: %v", leaked)}
	}
	return nil
}
