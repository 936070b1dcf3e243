package store

import "strings"

// JoinPath builds a slash-separated store path, skipping empty parts.
func JoinPath(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}

// SplitPath returns the segments of a store path.
func SplitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// ParentPath returns the parent of a path and the leaf segment. The parent
// of a single-segment path is the empty root.
func ParentPath(path string) (string, string) {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return "", ""
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1]
}

// Related reports whether a change at changed is visible to a subscriber of
// path, i.e. one is the other or its ancestor.
func Related(path, changed string) bool {
	if path == changed {
		return true
	}
	return strings.HasPrefix(changed, path+"/") || strings.HasPrefix(path, changed+"/")
}
