package eval

import (
	"regexp"
	"strings"
)

// TranslateGlob converts a blocked-path glob into an anchored regular
// expression. `**` matches across path separators, `*` within a single
// segment; every other regex metacharacter is escaped. A leading `~` expands
// to the supplied home directory.
func TranslateGlob(glob, home string) (*regexp.Regexp, error) {
	if home != "" {
		if glob == "~" {
			glob = home
		} else if strings.HasPrefix(glob, "~/") {
			glob = home + glob[1:]
		}
	}

	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		if glob[i] == '*' {
			if i+1 < len(glob) && glob[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString(`[^/]*`)
			}
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(glob[i])))
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// MatchGlob reports whether path matches the blocked-path glob.
// A glob that fails to compile matches nothing.
func MatchGlob(path, glob, home string) bool {
	re, err := TranslateGlob(glob, home)
	if err != nil {
		return false
	}
	return re.MatchString(path)
}
