// Package quality classifies free text returned by search collaborators.
package quality

import (
	"regexp"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MinUsefulLength is the shortest text IsUsefulContent accepts, in characters.
const MinUsefulLength = 100

// numericPatterns match amounts, percentages and named metrics. Both ',' and
// '.' are accepted as decimal separators.
var numericPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\d+[,.]?\d*\s*(milliards?|Md|billions?)\s*(d')?euros?`),
	regexp.MustCompile(`(?i)\d+[,.]?\d*\s*(millions?|M)\s*(d')?euros?`),
	regexp.MustCompile(`(?i)\d+[,.]?\d*\s*%`),
	regexp.MustCompile(`(?i)\d+[,.]?\d*\s*€`),
	regexp.MustCompile(`(?i)~?\d+[,.]?\d*\s*(Md€|M€)`),
	regexp.MustCompile(`(?i)€\s*~?\d+[,.]?\d*\s*(Md|M|milliards?|millions?)\b`),
	regexp.MustCompile(`(?i)(TAM|SAM|SOM)[^:]*:\s*~?\d+`),
	regexp.MustCompile(`(?i)part\s*(de\s*)?march[ée][^:]*:\s*~?\d+`),
}

// boilerplatePatterns match "no result" and error text. They run against
// lowercased input.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`aucun(e)?\s+(résultat|donnée|information)`),
	regexp.MustCompile(`pas\s+de\s+(données?|résultats?)`),
	regexp.MustCompile(`source.*n/a`),
	regexp.MustCompile(`erreur`),
	regexp.MustCompile(`malheureusement.*aucun`),
}

// HasNumericData reports whether text carries exploitable figures.
func HasNumericData(text string) bool {
	if text == "" {
		return false
	}
	for _, re := range numericPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// IsUsefulContent reports whether text is long enough and free of "no data"
// or error boilerplate.
func IsUsefulContent(text string) bool {
	return isUseful(text, MinUsefulLength)
}

// IsUsefulContentMin is IsUsefulContent with a custom minimum length.
func IsUsefulContentMin(text string, minLength int) bool {
	return isUseful(text, minLength)
}

func isUseful(text string, minLength int) bool {
	if text == "" || Length(text) < minLength {
		return false
	}
	folded := Fold(text)
	for _, re := range boilerplatePatterns {
		if re.MatchString(folded) {
			return false
		}
	}
	return true
}

// Fold lowercases text using French casing rules. A Caser is stateful, so a
// new one is built per call.
func Fold(text string) string {
	return cases.Lower(language.French).String(text)
}

// Length counts characters, not bytes.
func Length(text string) int {
	return utf8.RuneCountInString(text)
}

// Truncate returns at most n characters of text.
func Truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}
