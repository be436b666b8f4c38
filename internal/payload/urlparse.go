package payload

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// URLIdentity is a vehicle read out of a listing page URL.
type URLIdentity struct {
	Year  int
	Make  string
	Model string
	Trim  string
}

type token struct {
	text    string
	segment int
}

// title capitalizes a word. A Caser holds state, so one is made per call.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// ParseListingURL finds "<year> <make> <model> [trim...]" in the path of a
// dealer detail page such as "/used/2021-honda-accord-ex-12345.htm". It
// returns nil unless a plausible model year is followed by a make and a
// model. Short numeric models (ram 1500, mazda 3, porsche 911) are kept;
// longer numbers after the make are listing ids.
func (r *Rules) ParseListingURL(raw string, now time.Time) *URLIdentity {
	if raw == "" {
		return nil
	}
	path := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		path = u.Path
	}

	toks := r.tokenize(path)
	maxYear := now.Year() + 1

	for i, t := range toks {
		year, ok := parseYear(t.text, r.MinYear, maxYear)
		if !ok || i+2 >= len(toks) {
			continue
		}

		rest := toks[i+1:]
		mk, used := r.makeName(rest)
		if mk == "" || used >= len(rest) {
			continue
		}
		modelTok := rest[used]
		if isNumeric(modelTok.text) && len(modelTok.text) > r.NumericModelMaxLen {
			continue
		}
		used++

		id := &URLIdentity{
			Year:  year,
			Make:  mk,
			Model: title(modelTok.text),
		}
		// "3 series", "c class"
		if used < len(rest) && rest[used].segment == modelTok.segment && r.suffix[rest[used].text] {
			id.Model += " " + title(rest[used].text)
			used++
		}

		var trim []string
		for _, tt := range rest[used:] {
			if tt.segment != modelTok.segment || (isNumeric(tt.text) && len(tt.text) >= 5) {
				break
			}
			trim = append(trim, r.trimWord(tt.text))
		}
		id.Trim = strings.Join(trim, " ")
		return id
	}
	return nil
}

func (r *Rules) tokenize(path string) []token {
	var out []token
	for seg, part := range strings.Split(path, "/") {
		fields := strings.FieldsFunc(strings.ToLower(part), func(c rune) bool {
			return c == '-' || c == '_' || c == '.' || c == '+' || c == ' '
		})
		for _, f := range fields {
			if f == "" || r.stop[f] || r.vinShaped(f) {
				continue
			}
			out = append(out, token{text: f, segment: seg})
		}
	}
	return out
}

// makeName resolves the make at the head of toks and reports how many
// tokens it consumed.
func (r *Rules) makeName(toks []token) (string, int) {
	if len(toks) >= 2 {
		if name, ok := r.MultiWordMakes[toks[0].text+" "+toks[1].text]; ok {
			return name, 2
		}
	}
	first := toks[0].text
	if isNumeric(first) {
		return "", 0
	}
	if alias, ok := r.MakeAliases[first]; ok {
		return alias, 1
	}
	return title(first), 1
}

func (r *Rules) trimWord(w string) string {
	if len(w) <= r.TrimUpperMaxLen {
		return strings.ToUpper(w)
	}
	return title(w)
}

func parseYear(s string, minYear, maxYear int) (int, bool) {
	if len(s) != 4 || !isNumeric(s) {
		return 0, false
	}
	y, _ := strconv.Atoi(s)
	return y, y >= minYear && y <= maxYear
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
