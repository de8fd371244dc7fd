package newsfeed

import (
	"path"
	"strings"
	"unicode"
)

// ObjectSuffix is the extension every stored result carries.
const ObjectSuffix = ".json"

var sourceReplacer = strings.NewReplacer(" ", "_", "-", "_")

// NormalizeSource lower-cases the source and replaces spaces and hyphens with
// underscores. Sources that normalize to the same value share one object.
func NormalizeSource(source string) string {
	return sourceReplacer.Replace(strings.ToLower(source))
}

// ObjectKey derives the storage key for a pair: "company/normalized.json".
func ObjectKey(company, source string) string {
	return company + "/" + NormalizeSource(source) + ObjectSuffix
}

// CompanyPrefix is the listing prefix for every object of a company.
func CompanyPrefix(company string) string {
	return company + "/"
}

// KeyStem returns the file name of key without directory or extension.
func KeyStem(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}

// SourceFromStem turns a key stem back into a readable source name by
// replacing underscores with spaces. Case is left alone.
func SourceFromStem(stem string) string {
	return strings.ReplaceAll(stem, "_", " ")
}

// DisplaySource title-cases a key stem for listings: "bbc_news" becomes
// "Bbc News". The original casing of the source is not recoverable.
func DisplaySource(stem string) string {
	return TitleCase(SourceFromStem(stem))
}

// TitleCase upper-cases the first letter of every run of letters and
// lower-cases the rest, so "o'neil abc2def" becomes "O'Neil Abc2Def".
func TitleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		isLetter := unicode.IsLetter(r)
		switch {
		case isLetter && !prevLetter:
			b.WriteRune(unicode.ToUpper(r))
		case isLetter:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
		prevLetter = isLetter
	}
	return b.String()
}
