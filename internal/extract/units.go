package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// inlineUnitFactors convert imperial and non-base metric units to the base
// units the field rules expect (mm for length, g for mass).
var inlineUnitFactors = map[string]struct {
	factor float64
	base   string
}{
	"in":     {25.4, "mm"},
	"inch":   {25.4, "mm"},
	"inches": {25.4, "mm"},
	"cm":     {10, "mm"},
	"lb":     {453.592, "g"},
	"lbs":    {453.592, "g"},
	"oz":     {28.3495, "g"},
}

var inlineUnitRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(inches|inch|in|cm|lbs|lb|oz)\b`)

// NormalizeUnitsInline rewrites measurements inside a value string to base
// units so downstream comparison is unit-free. Values without a convertible
// unit pass through untouched.
func NormalizeUnitsInline(value string) string {
	return inlineUnitRe.ReplaceAllStringFunc(value, func(m string) string {
		sub := inlineUnitRe.FindStringSubmatch(m)
		n, err := strconv.ParseFloat(sub[1], 64)
		if err != nil {
			return m
		}
		conv, ok := inlineUnitFactors[strings.ToLower(sub[2])]
		if !ok {
			return m
		}
		return strconv.FormatFloat(round3(n*conv.factor), 'f', -1, 64) + " " + conv.base
	})
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
