package sqlfilter

import "strings"

const likeEscapeClause = "ESCAPE '\\'"

var likeReplacer = strings.NewReplacer(
	"\\", "\\\\",
	"%", "\\%",
	"_", "\\_",
)

// SQL Server additionally treats [ as the start of a character class.
var likeBracketReplacer = strings.NewReplacer(
	"\\", "\\\\",
	"%", "\\%",
	"_", "\\_",
	"[", "\\[",
)

func escapeLikePattern(value string, brackets bool) string {
	if brackets {
		return likeBracketReplacer.Replace(value)
	}
	return likeReplacer.Replace(value)
}

// likePattern wraps an escaped literal with the wildcards of a string predicate.
func likePattern(escaped string, prefixWildcard, suffixWildcard bool) string {
	if prefixWildcard {
		escaped = "%" + escaped
	}
	if suffixWildcard {
		escaped += "%"
	}
	return escaped
}
