// Package keypath maps caller-visible resource paths onto flat object keys.
//
// S3 has no directories. A repository is a bucket plus a key prefix, and a
// resource path is appended to that prefix to form the object key. Listing a
// "directory" is emulated by listing every key under the directory prefix and
// collapsing deeper keys to their first path segment.
package keypath

import "strings"

const separator = "/"

// NormalizePrefix derives the key prefix from a repository base directory.
// The result is empty, or ends with "/" and never starts with "/".
func NormalizePrefix(basedir string) string {
	prefix := strings.TrimSpace(basedir)
	if prefix == "" {
		return ""
	}
	if !strings.HasSuffix(prefix, separator) {
		prefix += separator
	}
	prefix = strings.TrimLeft(prefix, separator)
	return prefix
}

// Clean strips one leading "./" and then any leading "/" from a relative
// resource path.
func Clean(rel string) string {
	rel = strings.TrimPrefix(rel, "./")
	return strings.TrimLeft(rel, separator)
}

// ToKey returns the object key for rel under prefix. prefix must already be
// normalized with NormalizePrefix.
func ToKey(prefix, rel string) string {
	return prefix + Clean(rel)
}

// DirectoryPrefix returns the key prefix that lists the children of dir.
// An empty or "." dir lists the repository root.
func DirectoryPrefix(prefix, dir string) string {
	dir = Clean(dir)
	if dir == "" || dir == "." {
		return prefix
	}
	key := prefix + dir
	if !strings.HasSuffix(key, separator) {
		key += separator
	}
	return key
}

// ToChildName strips prefix from key and returns the first remaining path
// segment. Keys nested below a child directory collapse to that directory name.
func ToChildName(prefix, key string) string {
	name := strings.TrimPrefix(key, prefix)
	if i := strings.Index(name, separator); i >= 0 {
		return name[:i]
	}
	return name
}

// Join appends a relative sub path to a destination resource path. An empty
// or "." destination is the repository root.
func Join(destination, sub string) string {
	destination = strings.TrimRight(strings.TrimSpace(destination), separator)
	if destination == "." {
		destination = ""
	}
	sub = strings.TrimLeft(sub, separator)
	if destination == "" {
		return sub
	}
	if sub == "" {
		return destination
	}
	return destination + separator + sub
}
