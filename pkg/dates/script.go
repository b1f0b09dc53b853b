package dates

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Gregorian month and weekday names as printed by Nepali and Hindi outlets.
// Bikram Sambat month names are listed separately because they name a
// different calendar and must not be read as Gregorian months.
var devanagariWords = map[string]string{
	"जनवरी":      "January",
	"फेब्रुअरी":  "February",
	"फेब्रुवरी":  "February",
	"फरवरी":      "February",
	"फ़रवरी":     "February",
	"मार्च":      "March",
	"अप्रिल":     "April",
	"अप्रैल":     "April",
	"मे":         "May",
	"मई":         "May",
	"जुन":        "June",
	"जून":        "June",
	"जुलाई":      "July",
	"अगस्ट":      "August",
	"अगष्ट":      "August",
	"अगस्त":      "August",
	"सेप्टेम्बर": "September",
	"सेप्टेम्वर": "September",
	"सितंबर":     "September",
	"सितम्बर":    "September",
	"अक्टोबर":    "October",
	"अक्टुबर":    "October",
	"अक्टूबर":    "October",
	"नोभेम्बर":   "November",
	"नोवेम्बर":   "November",
	"नवंबर":      "November",
	"नवम्बर":     "November",
	"डिसेम्बर":   "December",
	"दिसंबर":     "December",
	"दिसम्बर":    "December",
}

func init() {
	composed := make(map[string]string, len(devanagariWords))
	for k, v := range devanagariWords {
		composed[norm.NFC.String(k)] = v
	}
	devanagariWords = composed

	months := make(map[string]int, len(bikramSambatMonths))
	for k, v := range bikramSambatMonths {
		months[norm.NFC.String(k)] = v
	}
	bikramSambatMonths = months
}

var devanagariWeekdays = map[string]struct{}{
	"आइतबार": {}, "सोमबार": {}, "मंगलबार": {}, "बुधबार": {},
	"बिहीबार": {}, "शुक्रबार": {}, "शनिबार": {},
	"रविवार": {}, "सोमवार": {}, "मंगलवार": {}, "बुधवार": {},
	"गुरुवार": {}, "शुक्रवार": {}, "शनिवार": {},
}

var bikramSambatMonths = map[string]int{
	"बैशाख": 1, "वैशाख": 1, "जेठ": 2, "जेष्ठ": 2, "असार": 3, "आषाढ": 3,
	"साउन": 4, "श्रावण": 4, "भदौ": 5, "भाद्र": 5, "असोज": 6, "आश्विन": 6,
	"कात्तिक": 7, "कार्तिक": 7, "मंसिर": 8, "मङ्सिर": 8, "पुस": 9, "पौष": 9,
	"माघ": 10, "फागुन": 11, "फाल्गुन": 11, "चैत": 12, "चैत्र": 12,
}

// Transliterate converts Devanagari and Bengali digits to ASCII, maps
// Devanagari Gregorian month names to English and drops weekday names and the
// "गते" day marker. Latin text passes through unchanged.
func Transliterate(s string) string {
	s = strings.Map(asciiDigit, norm.NFC.String(s))
	if !hasNonLatinLetter(s) {
		return s
	}

	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		word, trail := splitTrailingPunct(f)
		if _, ok := devanagariWeekdays[word]; ok {
			continue
		}
		if word == "गते" {
			continue
		}
		if en, ok := devanagariWords[word]; ok {
			out = append(out, en+trail)
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// IsBikramSambat reports whether the text names a Bikram Sambat month.
func IsBikramSambat(s string) bool {
	for _, f := range strings.Fields(norm.NFC.String(s)) {
		word, _ := splitTrailingPunct(f)
		if _, ok := bikramSambatMonths[word]; ok {
			return true
		}
	}
	return false
}

func asciiDigit(r rune) rune {
	switch {
	case r >= '०' && r <= '९':
		return '0' + (r - '०')
	case r >= '০' && r <= '৯':
		return '0' + (r - '০')
	case r == '।':
		return ' '
	}
	return r
}

func splitTrailingPunct(f string) (string, string) {
	word := strings.TrimRightFunc(f, func(r rune) bool {
		return r == ',' || r == '.' || r == ':' || r == ';'
	})
	return word, f[len(word):]
}

func hasNonLatinLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && r > unicode.MaxLatin1 {
			return true
		}
	}
	return false
}
