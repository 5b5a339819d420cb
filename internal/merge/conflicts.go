package merge

import (
	"bufio"
	"fmt"
	"sort"
	"strings"
)

// ConflictError reports a merge that produced conflicts. The files carry the
// conflicting paths so callers can surface them without re-running the merge.
type ConflictError struct {
	Files []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge produced conflicts in %d files: %s",
		len(e.Files), strings.Join(e.Files, ", "))
}

// parseConflictFiles extracts the conflicting file paths from merge output.
// git reports content conflicts as
//
//	CONFLICT (content): Merge conflict in <path>
//
// and modify/delete conflicts with their own phrasing:
//
//	CONFLICT (modify/delete): <path> deleted in <ref> and modified in <ref> ...
//
// Both forms are recognized; anything else starting with CONFLICT falls back
// to taking the first token after the marker.
func parseConflictFiles(output string) []string {
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "CONFLICT") {
			continue
		}

		if i := strings.Index(line, "Merge conflict in "); i >= 0 {
			path := strings.TrimSpace(line[i+len("Merge conflict in "):])
			if path != "" {
				seen[path] = struct{}{}
			}
			continue
		}

		if strings.Contains(line, "(modify/delete)") {
			rest := afterColon(line)
			if i := strings.Index(rest, " deleted in "); i >= 0 {
				rest = rest[:i]
			}
			if rest != "" {
				seen[rest] = struct{}{}
			}
			continue
		}

		if rest := afterColon(line); rest != "" {
			if fields := strings.Fields(rest); len(fields) > 0 {
				seen[fields[0]] = struct{}{}
			}
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func afterColon(line string) string {
	if i := strings.Index(line, "): "); i >= 0 {
		return strings.TrimSpace(line[i+3:])
	}
	return ""
}
