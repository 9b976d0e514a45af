// Package textutil holds the small text helpers used by the bundled commands.
package textutil

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

var owoWords = map[string]string{
	"you": "yuw",
	"and": "awnd",
	"lol": "lawl",
}

var owoLetters = strings.NewReplacer("l", "w", "L", "W", "r", "w", "R", "W")

var whitespace = regexp.MustCompile(`\s+`)

// Owo translates text word by word. Whitespace between words is kept as-is.
func Owo(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	last := 0
	for _, loc := range whitespace.FindAllStringIndex(text, -1) {
		b.WriteString(owoWord(text[last:loc[0]]))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(owoWord(text[last:]))
	return b.String()
}

func owoWord(word string) string {
	if repl, ok := owoWords[strings.ToLower(word)]; ok {
		if isUpper(word) {
			return strings.ToUpper(repl)
		}
		return repl
	}
	return owoLetters.Replace(word)
}

// isUpper reports whether s has at least one cased letter and no lowercase ones.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

// NormalizeFilename returns the lowercase base name of file without its last extension.
func NormalizeFilename(file string) string {
	if file == "" {
		return ""
	}
	base := filepath.Base(file)
	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return strings.ToLower(base)
	}
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

// FileByName returns the first element of files whose normalized name equals the normalized name.
func FileByName(files []string, name string) (string, bool) {
	want := NormalizeFilename(name)
	for _, f := range files {
		if NormalizeFilename(f) == want {
			return f, true
		}
	}
	return "", false
}
