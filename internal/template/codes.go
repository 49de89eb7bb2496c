// Package template resolves #CODE references in chat text and fans out the
// stored template bodies as separate sends.
package template

import (
	"regexp"
	"strings"
)

var codePattern = regexp.MustCompile(`#([A-Za-z0-9_]+)`)

// ExtractCodes returns the template codes referenced in text, uppercased
// and de-duplicated, in order of first appearance.
func ExtractCodes(text string) []string {
	matches := codePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		code := strings.ToUpper(m[1])
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}

// mediaKind maps a template attachment mimetype to the transport media kind.
func mediaKind(mimetype string) string {
	switch {
	case strings.HasPrefix(mimetype, "image/"):
		return "image"
	case strings.HasPrefix(mimetype, "video/"):
		return "video"
	case strings.HasPrefix(mimetype, "audio/"):
		return "audio"
	default:
		return "document"
	}
}
