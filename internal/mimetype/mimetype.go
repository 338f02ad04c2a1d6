// Package mimetype resolves object content types from resource path extensions.
//
// A table bundled with the binary is consulted first; extensions it does not
// know are delegated to the platform resolver (mime.TypeByExtension).
package mimetype

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
)

//go:embed mime.types
var bundledTypes string

// FallbackFunc resolves an extension (including the leading dot) to a content
// type. It returns "" when the extension is unknown.
type FallbackFunc func(ext string) string

// Resolver maps extensions to content types. It is read-only after
// construction and safe for concurrent use.
type Resolver struct {
	types    map[string]string
	fallback FallbackFunc
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFallback replaces the platform resolver consulted for extensions that
// are missing from the table. A nil fallback disables the fallback entirely.
func WithFallback(fn FallbackFunc) Option {
	return func(r *Resolver) {
		r.fallback = fn
	}
}

// New returns a Resolver backed by the bundled table.
func New(opts ...Option) (*Resolver, error) {
	return NewFromReader(strings.NewReader(bundledTypes), opts...)
}

// NewFromReader returns a Resolver backed by a table in mime.types format:
// a content type followed by whitespace separated extensions, one entry per
// line, with blank lines and '#' comments ignored.
func NewFromReader(in io.Reader, opts ...Option) (*Resolver, error) {
	types, err := parse(in)
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		types:    types,
		fallback: mime.TypeByExtension,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func parse(in io.Reader) (map[string]string, error) {
	types := make(map[string]string)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, ext := range fields[1:] {
			types[ext] = fields[0]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mime types table: %w", err)
	}
	return types, nil
}

// Len returns the number of extensions in the table.
func (r *Resolver) Len() int {
	return len(r.types)
}

// Resolve returns the content type for the resource path p. The second
// result is false when no mapping exists anywhere, in which case callers
// omit the content type.
func (r *Resolver) Resolve(p string) (string, bool) {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		ext := p[i+1:]
		if t, ok := r.types[ext]; ok {
			return t, true
		}
		if t, ok := r.types[strings.ToLower(ext)]; ok {
			return t, true
		}
	}

	if r.fallback == nil {
		return "", false
	}
	ext := path.Ext(p)
	if ext == "" {
		return "", false
	}
	if t := r.fallback(ext); t != "" {
		return t, true
	}
	return "", false
}

