package access

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

// ErrServiceConfig is returned when the patched sshd config fails
// validation. The prior config has been restored when it is returned.
var ErrServiceConfig = errors.New("sshd config validation failed")

// Directive is one sshd_config keyword and its required value.
type Directive struct {
	Key   string
	Value string
}

func (d Directive) String() string { return d.Key + " " + d.Value }

// DefaultDirectives is the hardening set, sorted by key so patching is
// deterministic.
func DefaultDirectives() []Directive {
	ds := []Directive{
		{Key: "PasswordAuthentication", Value: "yes"},
		{Key: "PermitRootLogin", Value: "no"},
		{Key: "PubkeyAuthentication", Value: "yes"},
	}
	SortDirectives(ds)
	return ds
}

// SortDirectives orders ds by key.
func SortDirectives(ds []Directive) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Key < ds[j].Key })
}

var matchBlock = regexp.MustCompile(`(?i)^\s*Match\s`)

// PatchDirectives rewrites doc so every directive holds its value in the
// global section. For each key the last matching line, commented or not,
// before the first Match block is replaced in place and any other active
// line for the key is commented out; keys with no such line are inserted
// ahead of the first Match block, or appended. It returns the new document
// and the directives that changed.
func PatchDirectives(doc []byte, directives []Directive) ([]byte, []Directive) {
	text := string(doc)
	trailingNewline := text == "" || strings.HasSuffix(text, "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if text == "" {
		lines = nil
	}

	global := len(lines)
	for i, l := range lines {
		if matchBlock.MatchString(l) {
			global = i
			break
		}
	}

	var (
		changed  []Directive
		appended []string
	)
	for _, d := range directives {
		re := regexp.MustCompile(`(?i)^\s*(#)?\s*` + regexp.QuoteMeta(d.Key) + `\s+(\S+)`)

		last, commented, value := -1, false, ""
		var active []int
		for i := 0; i < global; i++ {
			m := re.FindStringSubmatch(lines[i])
			if m == nil {
				continue
			}
			last, commented, value = i, m[1] != "", m[2]
			if !commented {
				active = append(active, i)
			}
		}

		switch {
		case last >= 0 && !commented && len(active) == 1 && strings.EqualFold(value, d.Value):
			continue
		case last >= 0:
			lines[last] = d.String()
			// sshd takes the first occurrence, so earlier ones must go.
			for _, i := range active {
				if i != last {
					lines[i] = "# " + lines[i]
				}
			}
		default:
			appended = append(appended, d.String())
		}
		changed = append(changed, d)
	}

	if len(appended) > 0 {
		out := make([]string, 0, len(lines)+len(appended))
		out = append(out, lines[:global]...)
		out = append(out, appended...)
		out = append(out, lines[global:]...)
		lines = out
	}

	result := strings.Join(lines, "\n")
	if trailingNewline && len(lines) > 0 {
		result += "\n"
	}
	return []byte(result), changed
}
