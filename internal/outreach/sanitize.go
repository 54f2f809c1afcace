package outreach

import (
	"regexp"
	"strings"
	"unicode"
)

const maxSentences = 2

// honorifics are abbreviations whose trailing period does not end a sentence.
var honorifics = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "prof": true,
	"st": true, "jr": true, "sr": true,
}

const (
	greetingWord = `(?i)^(hi|hello|hey|dear|greetings)\b`
	honorific    = `\b(?:dr|mr|mrs|ms|prof)\.`
	closingWord  = `(?:best(?:\s+(?:regards|wishes))?|kind regards|warm regards|regards|thanks|thank you|cheers|sincerely)`
)

var (
	greetingLine      = regexp.MustCompile(greetingWord + `(?:` + honorific + `|[^.!?]){0,40}[,!]?$`)
	greetingPrefix    = regexp.MustCompile(greetingWord + `(?:` + honorific + `|[^,.!?\n]){0,40}[,!]\s*`)
	signatureLine     = regexp.MustCompile(`(?i)^` + closingWord + `\b[^.?]{0,40}$`)
	trailingSignature = regexp.MustCompile(`(?i)([.!?])\s+` + closingWord + `\s*(?:[,!.]\s*[\p{L} .'-]{0,40})?$`)
)

// Sanitize treats provider output as untrusted text and coerces it into the
// shape the prompt asked for: no wrapping quotes, no greeting, no signature,
// at most two sentences on a single line. It returns "" when nothing usable
// remains.
func Sanitize(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "\"'“”‘’`")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	// A signature starts the tail we throw away.
	for i := 1; i < len(lines); i++ {
		if signatureLine.MatchString(lines[i]) {
			lines = lines[:i]
			break
		}
	}
	if len(lines) > 1 && greetingLine.MatchString(lines[0]) {
		lines = lines[1:]
	}
	if len(lines) > 0 {
		lines[0] = greetingPrefix.ReplaceAllString(lines[0], "")
	}

	joined := strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
	joined = trailingSignature.ReplaceAllString(joined, "$1")
	return truncateSentences(joined, maxSentences)
}

// truncateSentences keeps the first n sentences of s. A sentence ends at '.',
// '!' or '?' followed by whitespace or end of text, except for the period of
// an honorific such as "Dr.".
func truncateSentences(s string, n int) string {
	runes := []rune(s)
	count := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && honorifics[strings.ToLower(wordBefore(runes, i))] {
			continue
		}
		count++
		if count == n {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return strings.TrimSpace(s)
}

// wordBefore returns the letters immediately preceding runes[i].
func wordBefore(runes []rune, i int) string {
	j := i
	for j > 0 && unicode.IsLetter(runes[j-1]) {
		j--
	}
	return string(runes[j:i])
}
