package resolver

import (
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var (
	countryNamesOnce sync.Once
	countryNames     map[string]string
)

// NormalizeCountry：ISO 3166 二位/三位/数字代码或英文、德文国名 → 二位代码
func NormalizeCountry(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if r, err := language.ParseRegion(strings.ToUpper(s)); err == nil && r.IsCountry() {
		return r.String(), true
	}
	countryNamesOnce.Do(buildCountryNames)
	code, ok := countryNames[strings.ToLower(s)]
	return code, ok
}

func buildCountryNames() {
	countryNames = make(map[string]string)
	namers := []display.Namer{display.Regions(language.English), display.Regions(language.German)}
	for a := 'A'; a <= 'Z'; a++ {
		for b := 'A'; b <= 'Z'; b++ {
			r, err := language.ParseRegion(string([]rune{a, b}))
			if err != nil || !r.IsCountry() {
				continue
			}
			for _, n := range namers {
				if name := n.Name(r); name != "" {
					countryNames[strings.ToLower(name)] = r.String()
				}
			}
		}
	}
}
