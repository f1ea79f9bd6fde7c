package fileset

import (
	"encoding/base64"
	"fmt"
	"path"
	"strings"
)

// Fence info-string attributes.
const (
	AttrBinary = "binary"
	AttrNoEOL  = "noeol"
)

const base64LineWidth = 76

// FenceFor returns a backtick fence longer than any backtick run in content
// (at least three).
func FenceFor(content string) string {
	longest, run := 0, 0
	for i := 0; i < len(content); i++ {
		if content[i] == '`' {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return strings.Repeat("`", max(3, longest+1))
}

// Marker renders the path line above a block. A path that ParseMarker
// would not read back unchanged is quoted: backticks normally, double
// quotes when the path itself holds a backtick.
func Marker(p string) string {
	if got, ok := ParseMarker(p); ok && got == p {
		return p
	}
	if strings.Contains(p, "`") {
		return `"` + p + `"`
	}
	return "`" + p + "`"
}

// ParseMarker strips markdown decoration from a path line. ok is false when
// the line reads as prose rather than a path.
func ParseMarker(line string) (string, bool) {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "#")
	s = strings.TrimSpace(s)
	for _, wrap := range []string{"**", "__", "*"} {
		if len(s) > 2*len(wrap) && strings.HasPrefix(s, wrap) && strings.HasSuffix(s, wrap) {
			s = strings.TrimSpace(s[len(wrap) : len(s)-len(wrap)])
		}
	}
	if low := strings.ToLower(s); strings.HasPrefix(low, "file:") {
		s = strings.TrimSpace(s[len("file:"):])
	}
	s = strings.TrimSuffix(s, ":")
	s = strings.TrimSpace(s)

	quote := ""
	for _, pair := range [][2]string{{"`", "`"}, {"[", "]"}, {"\"", "\""}} {
		if len(s) >= 2 && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			s = s[len(pair[0]) : len(s)-len(pair[1])]
			quote = pair[0]
			break
		}
	}
	if s == "" {
		return "", false
	}
	if quote == "" && strings.ContainsAny(s, " \t") {
		return s, false
	}
	// Inline code spans in prose leave stray backticks behind.
	if strings.Contains(s, "`") && quote != "\"" {
		return s, false
	}
	return s, true
}

// Language guesses a fence language tag from the file extension. Tags that
// would read as a fence attribute are never returned.
func Language(p string) string {
	switch ext := strings.TrimPrefix(path.Ext(p), "."); ext {
	case "py":
		return "python"
	case "js", "mjs", "cjs":
		return "javascript"
	case "ts", "tsx":
		return "typescript"
	case "sh", "bash":
		return "bash"
	case "yml":
		return "yaml"
	case "md":
		return "markdown"
	case "rs":
		return "rust"
	case "rb":
		return "ruby"
	case "", AttrBinary, AttrNoEOL:
		return ""
	default:
		for _, r := range ext {
			if !isTagRune(r) {
				return ""
			}
		}
		return ext
	}
}

func isTagRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
		r == '+' || r == '-' || r == '_'
}

// Serialize renders the set as path-marker blocks, in order. The output
// parses back into an equal set.
func (fs *FileSet) Serialize() string {
	var sb strings.Builder
	for i, p := range fs.order {
		if i > 0 {
			sb.WriteString("\n")
		}
		writeBlock(&sb, p, fs.files[p])
	}
	return sb.String()
}

func writeBlock(sb *strings.Builder, p string, f File) {
	var body string
	var attrs []string
	if lang := Language(p); lang != "" {
		attrs = append(attrs, lang)
	}

	if f.Binary {
		attrs = append(attrs, AttrBinary)
		body = wrap(base64.StdEncoding.EncodeToString(f.Data), base64LineWidth)
	} else {
		body = string(f.Data)
		if strings.HasSuffix(body, "\n") {
			body = strings.TrimSuffix(body, "\n")
		} else {
			attrs = append(attrs, AttrNoEOL)
		}
	}

	fence := FenceFor(body)
	sb.WriteString(Marker(p))
	sb.WriteString("\n")
	sb.WriteString(fence)
	sb.WriteString(strings.Join(attrs, " "))
	sb.WriteString("\n")
	if body != "" || (!f.Binary && len(f.Data) > 0) {
		sb.WriteString(body)
		sb.WriteString("\n")
	}
	sb.WriteString(fence)
	sb.WriteString("\n")
}

func wrap(s string, width int) string {
	if s == "" {
		return ""
	}
	var lines []string
	for len(s) > width {
		lines = append(lines, s[:width])
		s = s[width:]
	}
	lines = append(lines, s)
	return strings.Join(lines, "\n")
}

// ToChat renders the set as line-numbered context for improve prompts.
// Binary entries are listed by size only.
func (fs *FileSet) ToChat() string {
	var sb strings.Builder
	for _, p := range fs.order {
		f := fs.files[p]
		fmt.Fprintf(&sb, "File: %s\n", p)
		if f.Binary {
			fmt.Fprintf(&sb, "(binary, %d bytes)\n\n", len(f.Data))
			continue
		}
		content := strings.TrimSuffix(string(f.Data), "\n")
		fence := FenceFor(content)
		sb.WriteString(fence)
		sb.WriteString("\n")
		if len(f.Data) > 0 {
			for i, line := range strings.Split(content, "\n") {
				fmt.Fprintf(&sb, "%d %s\n", i+1, line)
			}
		}
		sb.WriteString(fence)
		sb.WriteString("\n\n")
	}
	return sb.String()
}
