package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Entry is one regular file found under the root.
type Entry struct {
	Path    string // Symlink-resolved absolute path.
	RelPath string // Path under the root as reached by the walk.
	Size    int64
}

// WalkOptions control pruning during discovery.
type WalkOptions struct {
	SkipDirs  []string // Directory names pruned anywhere in the tree.
	SkipPaths []string // Resolved directories pruned wherever they are reached (the backup root).
}

// Logger is the logging surface the pipeline needs.
type Logger interface {
	Info(string, ...interface{})
	Success(string, ...interface{})
	Warn(string, ...interface{})
	Error(string, ...interface{})
	Debug(string, ...interface{})
}

// walker visits every real directory and real file at most once, so
// symlink cycles and links to already-seen content are harmless.
type walker struct {
	skipNames map[string]bool
	skipReal  map[string]bool
	seenDirs  map[string]bool
	seenFiles map[string]bool
	entries   []Entry
	log       Logger
}

// Discover walks root and returns its regular files sorted by relative path.
// root must be an absolute, symlink-resolved directory. Unreadable
// subdirectories and dangling links are logged and skipped.
func Discover(ctx context.Context, root string, opts WalkOptions, log Logger) ([]Entry, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	if _, err := os.ReadDir(root); err != nil {
		return nil, err
	}

	w := &walker{
		skipNames: make(map[string]bool, len(opts.SkipDirs)),
		skipReal:  make(map[string]bool, len(opts.SkipPaths)),
		seenDirs:  make(map[string]bool),
		seenFiles: make(map[string]bool),
		log:       log,
	}
	for _, name := range opts.SkipDirs {
		w.skipNames[name] = true
	}
	for _, p := range opts.SkipPaths {
		if real, err := filepath.EvalSymlinks(p); err == nil {
			w.skipReal[real] = true
		}
	}

	if err := w.walkDir(ctx, root, ""); err != nil {
		return nil, err
	}
	sort.Slice(w.entries, func(i, j int) bool { return w.entries[i].RelPath < w.entries[j].RelPath })
	return w.entries, nil
}

func (w *walker) walkDir(ctx context.Context, real, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.seenDirs[real] || w.skipReal[real] {
		return nil
	}
	w.seenDirs[real] = true

	children, err := os.ReadDir(real)
	if err != nil {
		w.log.Warn("Cannot read directory %s: %v", real, err)
		return nil
	}
	for _, d := range children {
		childPath := filepath.Join(real, d.Name())
		childRel := filepath.Join(rel, d.Name())

		if d.Type()&fs.ModeSymlink != 0 {
			if err := w.visitLink(ctx, childPath, childRel, d.Name()); err != nil {
				return err
			}
			continue
		}
		if d.IsDir() {
			if w.skipNames[d.Name()] {
				w.log.Debug("Skipping directory %s", childRel)
				continue
			}
			if err := w.walkDir(ctx, childPath, childRel); err != nil {
				return err
			}
			continue
		}
		if !d.Type().IsRegular() {
			continue
		}
		fi, err := d.Info()
		if err != nil {
			w.log.Warn("Cannot stat %s: %v", childPath, err)
			continue
		}
		w.addFile(childPath, childRel, fi.Size())
	}
	return nil
}

// visitLink follows a symlink to its real target.
func (w *walker) visitLink(ctx context.Context, link, rel, name string) error {
	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.log.Debug("Skipping dangling link %s", rel)
		} else {
			w.log.Warn("Cannot resolve link %s: %v", link, err)
		}
		return nil
	}
	fi, err := os.Stat(target)
	if err != nil {
		w.log.Warn("Cannot stat link target %s: %v", target, err)
		return nil
	}
	switch {
	case fi.IsDir():
		if w.skipNames[name] {
			return nil
		}
		return w.walkDir(ctx, target, rel)
	case fi.Mode().IsRegular():
		w.addFile(target, rel, fi.Size())
	}
	return nil
}

func (w *walker) addFile(real, rel string, size int64) {
	if w.seenFiles[real] {
		w.log.Debug("Already queued %s, skipping %s", real, rel)
		return
	}
	w.seenFiles[real] = true
	w.entries = append(w.entries, Entry{Path: real, RelPath: rel, Size: size})
}
