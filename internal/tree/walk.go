// Package tree walks a local directory and yields the files to upload.
//
// The walk is a lazy sequence of (local path, resource path) pairs. It does no
// uploading and no logging itself; consumers decide what to do with each entry.
package tree

import (
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dc-tec/s3-wagon/internal/keypath"
)

// Entry is one file found by Walk.
type Entry struct {
	// LocalPath is the file's path on disk.
	LocalPath string
	// ResourcePath is the destination resource path, slash separated.
	ResourcePath string
	// Size and ModTime describe the file (the symlink target for symlinks).
	Size    int64
	ModTime time.Time
	// Skipped is non-empty when the entry must not be uploaded. It holds the
	// reason, meant for a warning log line.
	Skipped string
}

// Hidden reports whether a file or directory name is hidden.
func Hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Walk yields every regular file below root, in lexical order, mapped to a
// resource path under dest. Hidden files are skipped and hidden directories
// are not descended into. Directories themselves yield nothing.
//
// Symlinks are followed when they resolve to a readable regular file.
// Unreadable files, special files and symlinks to anything else yield an Entry
// with Skipped set rather than an error. An error is yielded only when root
// itself cannot be walked; iteration stops after it.
func Walk(root, dest string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		info, err := os.Stat(root)
		if err != nil {
			yield(Entry{}, fmt.Errorf("failed to stat upload root %s: %w", root, err))
			return
		}
		if !info.IsDir() {
			yield(Entry{}, fmt.Errorf("upload root %s is not a directory", root))
			return
		}

		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if path == root {
				if walkErr != nil {
					yield(Entry{}, fmt.Errorf("failed to read upload root %s: %w", root, walkErr))
					return filepath.SkipAll
				}
				return nil
			}

			if Hidden(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			entry := Entry{
				LocalPath:    path,
				ResourcePath: keypath.Join(dest, filepath.ToSlash(rel)),
			}

			if walkErr != nil {
				entry.Skipped = fmt.Sprintf("unreadable: %v", walkErr)
				if !yield(entry, nil) {
					return filepath.SkipAll
				}
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}

			classify(&entry, d)
			if !yield(entry, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

func classify(entry *Entry, d fs.DirEntry) {
	mode := d.Type()
	switch {
	case mode.IsRegular():
		info, err := d.Info()
		if err != nil {
			entry.Skipped = fmt.Sprintf("unreadable: %v", err)
			return
		}
		fill(entry, info)
	case mode&fs.ModeSymlink != 0:
		info, err := os.Stat(entry.LocalPath)
		if err != nil {
			entry.Skipped = fmt.Sprintf("broken symlink: %v", err)
			return
		}
		if !info.Mode().IsRegular() {
			entry.Skipped = fmt.Sprintf("symlink to %s is not followed", describe(info.Mode()))
			return
		}
		fill(entry, info)
	default:
		entry.Skipped = fmt.Sprintf("%s is not a regular file", describe(mode))
		return
	}

	if entry.Skipped == "" {
		if err := readable(entry.LocalPath); err != nil {
			entry.Skipped = fmt.Sprintf("unreadable: %v", err)
		}
	}
}

func fill(entry *Entry, info fs.FileInfo) {
	entry.Size = info.Size()
	entry.ModTime = info.ModTime()
}

func readable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func describe(mode fs.FileMode) string {
	switch {
	case mode.IsDir():
		return "directory"
	case mode&fs.ModeNamedPipe != 0:
		return "named pipe"
	case mode&fs.ModeSocket != 0:
		return "socket"
	case mode&fs.ModeDevice != 0:
		return "device"
	case mode&fs.ModeSymlink != 0:
		return "symlink"
	default:
		return "special file"
	}
}
