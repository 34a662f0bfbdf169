package snapshot

import (
	"golang.org/x/sys/unix"
)

// readXattrs captures path's extended attributes for storage in a
// directory entry (SPEC_FULL.md §3.1, gated behind PutSettings.CaptureXattrs).
// A path with no xattr support (or none set) returns a nil map. Read
// failures are not reported: an attribute whose value cannot be read is
// left out, and the error result is always nil.
func readXattrs(path string) (map[string]string, error) {
	size, err := unix.Listxattr(path, nil)
	if err != nil || size == 0 {
		return nil, nil
	}

	names := make([]byte, size)
	n, err := unix.Listxattr(path, names)
	if err != nil {
		return nil, nil
	}
	names = names[:n]

	out := make(map[string]string)
	for _, name := range splitNulTerminated(names) {
		if name == "" {
			continue
		}
		valSize, err := unix.Getxattr(path, name, nil)
		if err != nil {
			continue
		}
		val := make([]byte, valSize)
		n, err := unix.Getxattr(path, name, val)
		if err != nil {
			continue
		}
		out[name] = string(val[:n])
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func splitNulTerminated(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			names = append(names, string(buf[start:i]))
			start = i + 1
		}
	}
	return names
}
