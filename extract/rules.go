package extract

import (
	"regexp"
	"strings"
	"unicode"
)

// Rule is one independent matcher. It returns the fields it found and
// whether its pattern matched at all. A rule may see the record assembled
// so far, but it never writes to it.
type Rule interface {
	Name() string
	Apply(subject, body string, sofar Record) (Record, bool)
}

// Patterns accept any Unicode space and decimal digit, so the ideographic
// space and full-width numbers Japanese mail clients insert still match.
const (
	ws    = `[\s\p{Zs}]*`
	digit = `\p{Nd}`
)

func clean(s string) string { return strings.TrimFunc(s, unicode.IsSpace) }

// subjectRule reads `<marker> <number>/<item>（<remarks>）` from the subject.
type subjectRule struct {
	name string
	re   *regexp.Regexp
}

func (r subjectRule) Name() string { return r.name }

func (r subjectRule) Apply(subject, _ string, _ Record) (Record, bool) {
	m := r.re.FindStringSubmatch(subject)
	if m == nil {
		return Record{}, false
	}
	return Record{
		RequestNumber: clean(m[1]),
		ItemName:      clean(m[2]),
		Remarks:       clean(m[3]),
	}, true
}

// subjectPattern builds the subject expression for a marker. The item name
// runs up to the first full-width opening parenthesis.
func subjectPattern(prefix, marker string) *regexp.Regexp {
	return regexp.MustCompile(prefix + regexp.QuoteMeta(marker) + ws +
		`(` + digit + `+)` + ws + `/` + ws + `([^（]+)(?:` + ws + `（(.*?)）)?`)
}

// bodyRule captures a single field from the body when it is still empty.
type bodyRule struct {
	name  string
	re    *regexp.Regexp
	field func(*Record) *string
}

func (r bodyRule) Name() string { return r.name }

func (r bodyRule) Apply(_, body string, sofar Record) (Record, bool) {
	if *r.field(&sofar) != "" {
		return Record{}, false
	}
	m := r.re.FindStringSubmatch(body)
	if m == nil {
		return Record{}, false
	}
	var out Record
	*r.field(&out) = clean(m[1])
	return out, true
}

// keywordRule sets the urgency when its keyword appears in subject or body.
type keywordRule struct {
	keyword string
}

func (r keywordRule) Name() string { return "urgency" }

func (r keywordRule) Apply(subject, body string, _ Record) (Record, bool) {
	if strings.Contains(subject, r.keyword) || strings.Contains(body, r.keyword) {
		return Record{Urgency: r.keyword}, true
	}
	return Record{}, false
}

// firstMatch tries its rules in order and stops at the first one whose
// pattern matched, even if that match left some fields empty.
type firstMatch struct {
	name  string
	rules []Rule
}

func (f firstMatch) Name() string { return f.name }

func (f firstMatch) Apply(subject, body string, sofar Record) (Record, bool) {
	for _, r := range f.rules {
		if rec, ok := r.Apply(subject, body, sofar); ok {
			return rec, true
		}
	}
	return Record{}, false
}

var (
	bodyItemRe      = regexp.MustCompile(`「(.*?)」です。`)
	bodyRequestRe   = regexp.MustCompile(`申請番号：` + ws + `(` + digit + `+)`)
	bodySubmitToRe  = regexp.MustCompile(`(精密事務室\(` + digit + `+号室\))へ提出してください`)
	forwardingTagRe = `(?:\[daitai:` + digit + `+\]` + ws + `)?`
)

// DefaultRules is the rule chain for purchase mails tagged with marker.
func DefaultRules(marker string) []Rule {
	return []Rule{
		firstMatch{
			name: "subject",
			rules: []Rule{
				subjectRule{name: "subject-forwarded", re: subjectPattern(forwardingTagRe, marker)},
				subjectRule{name: "subject-plain", re: subjectPattern("", marker)},
			},
		},
		bodyRule{name: "body-item", re: bodyItemRe, field: func(r *Record) *string { return &r.ItemName }},
		bodyRule{name: "body-request-number", re: bodyRequestRe, field: func(r *Record) *string { return &r.RequestNumber }},
		keywordRule{keyword: UrgentKeyword},
		bodyRule{name: "body-office", re: bodySubmitToRe, field: func(r *Record) *string { return &r.Office }},
	}
}
