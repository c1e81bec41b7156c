package sandbox

import (
	"regexp"
	"strings"
)

// Rule rewrites code that failed with a known error signature.
type Rule struct {
	Name string
	// ErrorType is the Python exception class name, e.g. "TypeError".
	ErrorType string
	// Signature must appear in the exception message.
	Signature string
	Rewrite   func(code string) string
}

// kwargValue matches a dict literal, a dict(...) call or a plain argument.
const kwargValue = `(?:\{[^{}]*\}|dict\([^()]*\)|[^,()\n]+)`

// DefaultRules is the ordered repair table; the first match wins.
var DefaultRules = []Rule{
	{Name: "marker_size", ErrorType: "TypeError", Signature: "marker_size", Rewrite: rewriteMarkerSize},
	{Name: "xbins", ErrorType: "TypeError", Signature: "xbins", Rewrite: StripKwarg("xbins")},
	{Name: "borderpad", ErrorType: "ValueError", Signature: "borderpad", Rewrite: StripKwarg("borderpad")},
}

// Match returns the first rule in rules matching the exception.
func Match(rules []Rule, errType, message string) (Rule, bool) {
	for _, r := range rules {
		if r.ErrorType == errType && strings.Contains(message, r.Signature) {
			return r, true
		}
	}
	return Rule{}, false
}

var markerSize = regexp.MustCompile(`\bmarker_size\s*=\s*([^,()\n]+?)\s*([,)\n])`)

// rewriteMarkerSize turns marker_size=X into marker=dict(size=X).
func rewriteMarkerSize(code string) string {
	return markerSize.ReplaceAllString(code, "marker=dict(size=${1})${2}")
}

// StripKwarg returns a rewrite that removes every name=value keyword argument.
func StripKwarg(name string) func(string) string {
	leading := regexp.MustCompile(`,\s*\b` + regexp.QuoteMeta(name) + `\s*=\s*` + kwargValue)
	first := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*=\s*` + kwargValue + `\s*,?\s*`)
	return func(code string) string {
		code = leading.ReplaceAllString(code, "")
		return first.ReplaceAllString(code, "")
	}
}

var namedPalette = regexp.MustCompile(`\bpx\.colors\.(?:qualitative|sequential|diverging|cyclical|carto|cmocean|colorbrewer)\.[A-Za-z0-9_]+`)

// NormalizePalette replaces every named Plotly palette reference with palette.
func NormalizePalette(code, palette string) string {
	return namedPalette.ReplaceAllLiteralString(code, palette)
}
