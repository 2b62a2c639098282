package fuzzy

import (
	"strings"
	"unicode"
)

// LevenshteinDistance calculates the edit distance between two strings
// This measures how many single-character edits (insertions, deletions, or substitutions)
// are required to change one string into another
func LevenshteinDistance(s1, s2 string) int {
	r1 := []rune(normalizeString(s1))
	r2 := []rune(normalizeString(s2))
	m := len(r1)
	n := len(r2)

	if m == 0 {
		return n
	}
	if n == 0 {
		return m
	}

	d := make([][]int, m+1)
	for i := range d {
		d[i] = make([]int, n+1)
	}
	for i := 0; i <= m; i++ {
		d[i][0] = i
	}
	for j := 0; j <= n; j++ {
		d[0][j] = j
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			d[i][j] = min3(
				d[i-1][j]+1,      // deletion
				d[i][j-1]+1,      // insertion
				d[i-1][j-1]+cost, // substitution
			)
		}
	}

	return d[m][n]
}

// Common job-title abbreviations expanded before comparison.
var titleAliases = map[string]string{
	"sr":   "senior",
	"jr":   "junior",
	"eng":  "engineer",
	"engr": "engineer",
	"dev":  "developer",
	"mgr":  "manager",
	"qa":   "quality",
	"ui":   "frontend",
	"fe":   "frontend",
	"be":   "backend",
	"ops":  "operations",
}

// TitleSimilarity scores two job titles between 0 and 1. Tokens match when equal or within one
// edit of each other (for tokens of 5+ runes); a title fully contained in the other scores at least 0.9.
func TitleSimilarity(a, b string) float64 {
	ta := titleTokens(a)
	tb := titleTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	ja, jb := strings.Join(ta, " "), strings.Join(tb, " ")
	if ja == jb {
		return 1
	}

	used := make([]bool, len(tb))
	matches := 0
	for _, x := range ta {
		for i, y := range tb {
			if used[i] {
				continue
			}
			if tokensMatch(x, y) {
				used[i] = true
				matches++
				break
			}
		}
	}

	score := 2 * float64(matches) / float64(len(ta)+len(tb))
	if matches == len(ta) || matches == len(tb) {
		if score < 0.9 {
			score = 0.9
		}
	}
	return score
}

// BestMatch returns the index of the candidate title most similar to query, or -1 when none
// reaches minScore.
func BestMatch(query string, titles []string, minScore float64) (int, float64) {
	best, bestScore := -1, 0.0
	for i, title := range titles {
		score := TitleSimilarity(query, title)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < minScore {
		return -1, bestScore
	}
	return best, bestScore
}

func tokensMatch(x, y string) bool {
	if x == y {
		return true
	}
	if len([]rune(x)) >= 5 && len([]rune(y)) >= 5 {
		return LevenshteinDistance(x, y) <= 1
	}
	return false
}

func titleTokens(s string) []string {
	s = removeAccents(normalizeString(s))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if alias, ok := titleAliases[f]; ok {
			f = alias
		}
		out = append(out, f)
	}
	return out
}

// Helper functions

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}

// normalizeString converts to lowercase and collapses whitespace
func normalizeString(s string) string {
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	return s
}

// removeAccents maps common Latin diacritics to ASCII
func removeAccents(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		switch r {
		case 'á', 'à', 'â', 'ä', 'ã', 'å':
			result.WriteRune('a')
		case 'é', 'è', 'ê', 'ë':
			result.WriteRune('e')
		case 'í', 'ì', 'î', 'ï':
			result.WriteRune('i')
		case 'ó', 'ò', 'ô', 'ö', 'õ':
			result.WriteRune('o')
		case 'ú', 'ù', 'û', 'ü':
			result.WriteRune('u')
		case 'ç':
			result.WriteRune('c')
		case 'ñ':
			result.WriteRune('n')
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
