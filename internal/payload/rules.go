package payload

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rules is the data-driven part of payload building.
type Rules struct {
	Fields          map[string][]string `yaml:"fields"`
	StopWords       []string            `yaml:"stop_words"`
	VINPattern      string              `yaml:"vin_pattern"`
	MakeAliases     map[string]string   `yaml:"make_aliases"`
	MultiWordMakes  map[string]string   `yaml:"multi_word_makes"`
	TrimUpperMaxLen int                 `yaml:"trim_upper_max_len"`
	MinYear         int                 `yaml:"min_year"`

	NumericModelMaxLen int      `yaml:"numeric_model_max_len"`
	ModelSuffixes      []string `yaml:"model_suffixes"`

	stop   map[string]bool
	suffix map[string]bool
	vinRe  *regexp.Regexp
}

// DefaultRules returns the embedded rule table.
func DefaultRules() *Rules {
	r, err := parseRules(defaultRules)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRules reads a rule table from path, or the embedded table when path
// is empty.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "payload: read rules %s", path)
	}
	return parseRules(data)
}

func parseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "payload: parse rules")
	}
	if len(r.Fields) == 0 {
		return nil, eris.New("payload: rules define no fields")
	}
	if r.VINPattern == "" {
		r.VINPattern = `(?i)^[A-HJ-NPR-Z0-9]{11,17}$`
	}
	re, err := regexp.Compile(r.VINPattern)
	if err != nil {
		return nil, eris.Wrap(err, "payload: compile vin_pattern")
	}
	r.vinRe = re
	if r.MinYear <= 0 {
		r.MinYear = 1980
	}
	if r.NumericModelMaxLen <= 0 {
		r.NumericModelMaxLen = 4
	}

	r.stop = make(map[string]bool, len(r.StopWords))
	for _, w := range r.StopWords {
		r.stop[strings.ToLower(w)] = true
	}
	r.suffix = make(map[string]bool, len(r.ModelSuffixes))
	for _, w := range r.ModelSuffixes {
		r.suffix[strings.ToLower(w)] = true
	}
	return &r, nil
}

func (r *Rules) paths(field string) []string {
	return r.Fields[field]
}

// vinShaped matches tokens that look like a VIN: the pattern plus at least
// one letter and one digit, so long words are kept.
func (r *Rules) vinShaped(tok string) bool {
	if !r.vinRe.MatchString(tok) {
		return false
	}
	var letter, digit bool
	for _, c := range tok {
		switch {
		case c >= '0' && c <= '9':
			digit = true
		default:
			letter = true
		}
	}
	return letter && digit
}
