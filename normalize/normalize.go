// Package normalize cleans up the free text found in clerk records so it can be
// used as appraisal district search input.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// Legal description keywords that end the subdivision name
var legalDescStopKeywords = []string{"Sec:", "Lot:", "Block:", "Unit:", "Abstract:"}

var legalDescRemoveRe = regexp.MustCompile(`(?i)\b(ADDITION|SUBDIVISION)\b`)

var descPrefixRe = regexp.MustCompile(`(?i)desc:`)

// CleanLegalDescription reduces a "Desc: ..." legal description to the subdivision name.
// Text that does not start with "Desc:" yields an empty string.
func CleanLegalDescription(text string) string {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), "desc:") {
		return ""
	}

	parts := descPrefixRe.Split(text, 2)
	if len(parts) < 2 {
		return ""
	}
	desc := strings.TrimSpace(parts[1])
	desc = legalDescRemoveRe.ReplaceAllString(desc, "")

	// First keyword in list order wins, not the earliest position.
	lower := strings.ToLower(desc)
	for _, kw := range legalDescStopKeywords {
		if idx := strings.Index(lower, strings.ToLower(kw)); idx != -1 {
			desc = desc[:idx]
			break
		}
	}

	return strings.TrimSpace(desc)
}

// RemoveDuplicateLetters collapses runs of the same letter, leaving spaces,
// digits and punctuation untouched.
func RemoveDuplicateLetters(name string) string {
	var b strings.Builder
	var prev rune
	first := true

	for _, r := range name {
		if !first && r == prev && unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(r)
		prev = r
		first = false
	}

	return b.String()
}

// NameVariations returns the owner name followed by fallback spellings to try
// when the exact name finds nothing. LLC names are only searched verbatim.
func NameVariations(owner string) []string {
	if strings.TrimSpace(owner) == "" {
		return nil
	}
	if strings.Contains(strings.ToLower(owner), "llc") {
		return []string{owner}
	}

	punctToSpace := strings.Map(func(r rune) rune {
		if isASCIIPunct(r) {
			return ' '
		}
		return r
	}, owner)

	variants := []string{owner}
	if punctToSpace != owner {
		variants = append(variants, strings.Join(strings.Fields(punctToSpace), " "))
	}

	words := strings.Fields(punctToSpace)
	if len(words) == 2 {
		w1, w2 := words[0], words[1]
		variants = append(variants,
			w1+" "+RemoveDuplicateLetters(w2),
			RemoveDuplicateLetters(w1)+" "+w2,
			RemoveDuplicateLetters(w1)+" "+RemoveDuplicateLetters(w2),
		)
	} else {
		deduped := make([]string, len(words))
		for i, w := range words {
			deduped[i] = RemoveDuplicateLetters(w)
		}
		if joined := strings.Join(deduped, " "); joined != punctToSpace {
			variants = append(variants, joined)
		}
	}

	return unique(variants)
}

// OwnerName returns the first party of a comma separated grantee list
func OwnerName(grantees string) string {
	if grantees == "" {
		return ""
	}
	name, _, _ := strings.Cut(grantees, ",")
	return strings.TrimSpace(name)
}

// SafeFilename keeps only characters that are safe in file names on every platform
func SafeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) || r == '-' || r == '_' || r == '.' {
			return r
		}
		return -1
	}, name)
}

func isASCIIPunct(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsPunct(r) || strings.ContainsRune("$+<=>^`|~", r)
}

func unique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
