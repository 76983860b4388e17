package backup

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Entry is one manifest item: a world-relative file path and the exact
// number of committed bytes that are safe to copy. Bytes past Length in
// the live file are uncommitted and must be excluded.
type Entry struct {
	Path   string
	Length int64
}

// Manifest is the ordered file list returned by the server's save query
// response. Order matters: the trailing entries are world metadata files
// placed at the world root (see ResolvePath).
type Manifest []Entry

// DefaultMetadataTail is the number of trailing manifest entries assumed
// to be world metadata living at the world root. This mirrors the file
// ordering of the server's save query response and may need overriding
// if the server protocol changes.
const DefaultMetadataTail = 3

// ParseManifest tokenizes a save query response line. The line is a
// comma-separated sequence of "<worldName>/<relPath>:<byteLength>"
// tokens. Tokens for other worlds, malformed tokens, and non-numeric
// lengths produce errors; an empty result is an error too, since it
// means the response did not describe our world at all.
func ParseManifest(line, worldName string) (Manifest, error) {
	var m Manifest
	prefix := worldName + "/"
	for _, tok := range strings.Split(line, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		// Length follows the last colon; paths may contain colons on
		// some platforms.
		i := strings.LastIndexByte(tok, ':')
		if i <= 0 || i == len(tok)-1 {
			return nil, fmt.Errorf("malformed manifest token %q", tok)
		}
		rawPath := strings.TrimSpace(tok[:i])
		n, err := strconv.ParseInt(strings.TrimSpace(tok[i+1:]), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad length in manifest token %q", tok)
		}
		rel := strings.TrimPrefix(path.Clean(strings.ReplaceAll(rawPath, "\\", "/")), prefix)
		if rel == "" || rel == "." {
			return nil, fmt.Errorf("empty path in manifest token %q", tok)
		}
		m = append(m, Entry{Path: rel, Length: n})
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("save query response contained no files for world %q", worldName)
	}
	return m, nil
}

// ResolvePath maps the i-th of total manifest entries to its
// world-relative location. Entries before the metadata tail live under
// db/ unless the raw path already names a db/ segment, in which case the
// explicit path is trusted. The trailing tail entries are metadata files
// at the world root.
func ResolvePath(raw string, i, total, tail int) string {
	if tail < 0 {
		tail = DefaultMetadataTail
	}
	if hasDBSegment(raw) {
		return raw
	}
	if i < total-tail {
		return path.Join("db", raw)
	}
	return raw
}

func hasDBSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "db" {
			return true
		}
	}
	return false
}
