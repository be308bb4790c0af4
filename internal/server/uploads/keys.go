package uploads

import (
	"path"
	"strings"
	"unicode"
)

const maxSegmentLen = 200

// sanitizeSegment turns caller-supplied text into one safe key segment:
// letters, digits, '.', '-' and '_' survive, everything else becomes '_'.
func sanitizeSegment(s, fallback string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if len(out) > maxSegmentLen {
		out = out[:maxSegmentLen]
	}
	if out == "" || out == "_" {
		return fallback
	}
	return out
}

// sanitizeFileName keeps only the last path element of name.
func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	return sanitizeSegment(path.Base(name), "file")
}

// objectKey is <prefix>/<conversationId>/<uploadId>/<fileName>.
func objectKey(prefix, conversationID, uploadID, fileName string) string {
	return path.Join(
		strings.Trim(prefix, "/"),
		sanitizeSegment(conversationID, "conversation"),
		uploadID,
		sanitizeFileName(fileName),
	)
}

// uploadIDFromKey recovers the upload id from a key built by objectKey.
func uploadIDFromKey(prefix, key string) (string, bool) {
	p := strings.Trim(prefix, "/")
	if p != "" {
		if !strings.HasPrefix(key, p+"/") {
			return "", false
		}
		key = strings.TrimPrefix(key, p+"/")
	}

	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
