package fileutil

import "strings"

// Block is a marker-delimited region of a text file that this tool owns
// and rewrites wholesale. Lines outside the markers are never touched.
type Block struct {
	Begin string
	End   string
}

// Apply returns doc with the block's interior replaced by body. When doc
// has no block, one is appended after a blank line. Any further blocks
// with the same markers are dropped so at most one remains. Applying the
// same body twice is byte-identical.
func (b Block) Apply(doc []byte, body string) []byte {
	block := b.render(body)

	if !b.present(string(doc)) {
		text := string(doc)
		if text == "" {
			return []byte(strings.Join(block, "\n") + "\n")
		}
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		return []byte(text + "\n" + strings.Join(block, "\n") + "\n")
	}

	lines := strings.Split(string(doc), "\n")
	out := make([]string, 0, len(lines)+len(block))
	written := false
	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != b.Begin {
			out = append(out, lines[i])
			continue
		}
		// Skip to the end marker. An unterminated block runs to EOF.
		j := i + 1
		for j < len(lines) && strings.TrimSpace(lines[j]) != b.End {
			j++
		}
		if !written {
			out = append(out, block...)
			written = true
		}
		if j >= len(lines) {
			// Keep the document newline-terminated.
			out = append(out, "")
			break
		}
		i = j
	}
	return []byte(strings.Join(out, "\n"))
}

func (b Block) present(doc string) bool {
	for _, line := range strings.Split(doc, "\n") {
		if strings.TrimSpace(line) == b.Begin {
			return true
		}
	}
	return false
}

func (b Block) render(body string) []string {
	body = strings.TrimRight(body, "\n")
	lines := []string{b.Begin}
	if strings.TrimSpace(body) != "" {
		lines = append(lines, strings.Split(body, "\n")...)
	}
	return append(lines, b.End)
}
