package nodetext

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"meshmon/internal/model"
)

// Parse converts node-list output into node id -> field name -> value.
// Each node block starts with an unindented header line beginning with "!"
// followed by indented "Key: value" lines. Anything else is skipped; the
// output format differs across firmware and tool versions so the parser
// never fails, it only returns what it could recognise.
func Parse(text string) map[string]map[string]string {
	nodes := map[string]map[string]string{}
	var current map[string]string

	for _, line := range splitLines(text) {
		if id, ok := headerID(line); ok {
			if _, dup := nodes[id]; !dup {
				nodes[id] = map[string]string{}
			}
			current = nodes[id]
			continue
		}
		if current == nil {
			continue
		}
		if key, value, ok := fieldLine(line); ok {
			current[key] = value
		}
	}
	return nodes
}

// ParseSingleNode returns the fields that belong to targetID only. The
// result is empty when the header never appears, which callers read as
// "node absent this cycle".
func ParseSingleNode(text, targetID string) map[string]string {
	fields := map[string]string{}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return fields
	}

	found := false
	for _, line := range splitLines(text) {
		if !found {
			if strings.TrimSpace(line) == targetID {
				found = true
			}
			continue
		}
		if _, ok := headerID(line); ok {
			break
		}
		if key, value, ok := fieldLine(line); ok {
			fields[key] = value
		}
	}
	return fields
}

// Records returns the parsed nodes in the order their headers first appear.
func Records(text string) []model.NodeRecord {
	parsed := Parse(text)
	ids := NodeIDs(text)
	out := make([]model.NodeRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.NodeRecord{ID: id, Fields: parsed[id]})
	}
	return out
}

// NodeIDs returns the header ids in the order they first appear.
func NodeIDs(text string) []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, line := range splitLines(text) {
		id, ok := headerID(line)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func headerID(line string) (string, bool) {
	if line == "" || startsWithSpace(line) {
		return "", false
	}
	id := strings.TrimSpace(line)
	if !strings.HasPrefix(id, "!") {
		return "", false
	}
	return id, true
}

func fieldLine(line string) (string, string, bool) {
	if !startsWithSpace(line) {
		return "", "", false
	}
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

func startsWithSpace(line string) bool {
	r, _ := utf8.DecodeRuneInString(line)
	return r != utf8.RuneError && unicode.IsSpace(r)
}
