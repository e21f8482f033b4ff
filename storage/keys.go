package storage

import (
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// reservedChars are rejected anywhere in a key segment: they either collide
// with filesystem path separators on some backend or are reserved by
// Windows (even though the filesystem backend itself may run on Linux, keys
// are also used to derive object-store keys that have to round-trip through
// Windows-hosted tooling).
const reservedChars = `<>:"|?*`

// ValidateKey rejects path shapes that break a backend's key layout: ".." segments,
// absolute paths, Windows drive letters, reserved characters, and control
// bytes. Every segment is checked, not just the top-level key, so a key like
// "runs/../../etc/passwd" is caught even though its final segment is benign.
func ValidateKey(key string) error {
	if key == "" {
		return errors.New("storage: empty key")
	}
	if strings.ContainsRune(key, 0) {
		return errors.Errorf("storage: key %q contains a NUL byte", key)
	}
	for _, r := range key {
		if r < 0x20 {
			return errors.Errorf("storage: key %q contains a control byte", key)
		}
	}
	if path.IsAbs(key) || strings.HasPrefix(key, "/") || strings.HasPrefix(key, "\\") {
		return errors.Errorf("storage: key %q must be relative", key)
	}
	segments := strings.FieldsFunc(key, func(r rune) bool { return r == '/' || r == '\\' })
	for _, seg := range segments {
		if seg == ".." {
			return errors.Errorf("storage: key %q contains a %q segment", key, "..")
		}
		if seg == "." {
			continue
		}
		if len(seg) == 2 && seg[1] == ':' && isDriveLetter(seg[0]) {
			return errors.Errorf("storage: key %q contains a drive letter %q", key, seg)
		}
		if strings.ContainsAny(seg, reservedChars) {
			return errors.Errorf("storage: key %q segment %q contains a reserved character", key, seg)
		}
	}
	return nil
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// ParseBatchFileName extracts the first_tick/last_tick pair encoded in a
// chunkio.ChunkFileName-produced basename ("batch_<19 digits>_<19
// digits>.pb[.zst]"). ok is false for any name not matching that shape.
func ParseBatchFileName(p string) (firstTick, lastTick int64, ok bool) {
	base := path.Base(p)
	const prefix = "batch_"
	if !strings.HasPrefix(base, prefix) {
		return 0, 0, false
	}
	rest := strings.TrimPrefix(base, prefix)
	rest = strings.TrimSuffix(rest, ".pb.zst")
	rest = strings.TrimSuffix(rest, ".pb")
	parts := strings.SplitN(rest, "_", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	first, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	last, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return first, last, true
}
