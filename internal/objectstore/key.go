package objectstore

import "strings"

// NormalizeKey strips an s3://bucket/ prefix to return a bucket-relative key.
// Other paths are returned unchanged.
func NormalizeKey(path string) string {
	if strings.HasPrefix(path, "s3://") {
		trimmed := strings.TrimPrefix(path, "s3://")
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	}
	return path
}

// Join builds a key from non-empty parts separated by "/".
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}
