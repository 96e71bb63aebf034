package domain

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// CountryEntry is a static ISO 3166-1 alpha-2 code with its English name.
type CountryEntry struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// CountryRegistry resolves and lists country codes. It is immutable after construction.
type CountryRegistry struct {
	byCode  map[string]CountryEntry
	ordered []CountryEntry
}

// isoCountryCodes lists the officially assigned ISO 3166-1 alpha-2 codes.
const isoCountryCodes = `AD AE AF AG AI AL AM AO AQ AR AS AT AU AW AX AZ
BA BB BD BE BF BG BH BI BJ BL BM BN BO BQ BR BS BT BV BW BY BZ
CA CC CD CF CG CH CI CK CL CM CN CO CR CU CV CW CX CY CZ
DE DJ DK DM DO DZ EC EE EG EH ER ES ET FI FJ FK FM FO FR
GA GB GD GE GF GG GH GI GL GM GN GP GQ GR GS GT GU GW GY
HK HM HN HR HT HU ID IE IL IM IN IO IQ IR IS IT JE JM JO JP
KE KG KH KI KM KN KP KR KW KY KZ LA LB LC LI LK LR LS LT LU LV LY
MA MC MD ME MF MG MH MK ML MM MN MO MP MQ MR MS MT MU MV MW MX MY MZ
NA NC NE NF NG NI NL NO NP NR NU NZ OM
PA PE PF PG PH PK PL PM PN PR PS PT PW PY QA RE RO RS RU RW
SA SB SC SD SE SG SH SI SJ SK SL SM SN SO SR SS ST SV SX SY SZ
TC TD TF TG TH TJ TK TL TM TN TO TR TT TV TW TZ UA UG UM US UY UZ
VA VC VE VG VI VN VU WF WS YE YT ZA ZM ZW`

var defaultCountries = sync.OnceValue(func() *CountryRegistry {
	return NewCountryRegistry(strings.Fields(isoCountryCodes))
})

// Countries returns the process-wide registry built from the ISO table.
func Countries() *CountryRegistry {
	return defaultCountries()
}

// NewCountryRegistry builds a registry from the given codes. Names come from
// the CLDR English display names; codes that do not parse as regions are skipped.
func NewCountryRegistry(codes []string) *CountryRegistry {
	namer := display.English.Regions()
	r := &CountryRegistry{byCode: make(map[string]CountryEntry, len(codes))}

	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		region, err := language.ParseRegion(code)
		if err != nil {
			continue
		}
		name := namer.Name(region)
		if name == "" {
			name = code
		}
		entry := CountryEntry{Code: code, Name: name}
		if _, dup := r.byCode[code]; dup {
			continue
		}
		r.byCode[code] = entry
		r.ordered = append(r.ordered, entry)
	}

	col := collate.New(language.English, collate.Loose)
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return col.CompareString(r.ordered[i].Name, r.ordered[j].Name) < 0
	})
	return r
}

// Resolve looks up a code case-insensitively.
func (r *CountryRegistry) Resolve(code string) (CountryEntry, error) {
	entry, ok := r.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return CountryEntry{}, fmt.Errorf("%w: %q", ErrCountryNotFound, code)
	}
	return entry, nil
}

// All returns every entry ordered alphabetically by name.
func (r *CountryRegistry) All() []CountryEntry {
	out := make([]CountryEntry, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered countries.
func (r *CountryRegistry) Len() int {
	return len(r.ordered)
}
