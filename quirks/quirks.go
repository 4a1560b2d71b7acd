// Package quirks holds the model specific workarounds applied while
// connecting, keyed by advertised name, and the table of supported
// peripherals.
package quirks

import (
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Peripheral types reported by Match.
const (
	Temperature   = "temperature"
	Weight        = "weight"
	PulseOx       = "pulseox"
	Glucose       = "glucose"
	BloodPressure = "bloodpressure"
)

// SupportedPeripheral is one row of the supported device table.
type SupportedPeripheral struct {
	ID      string `yaml:"id"`
	Display string `yaml:"display"`
	Type    string `yaml:"type"`
	Pattern string `yaml:"pattern"`

	re *regexp.Regexp
}

// Matches reports whether the whole of name matches the row's pattern.
func (s SupportedPeripheral) Matches(name string) bool {
	return s.re != nil && s.re.MatchString(name)
}

// Table is the quirk policy. It satisfies blecentral.QuirkPolicy.
type Table struct {
	// RetryNames lists names, matched exactly, whose connect failures with
	// RetryStatus are retried up to MaxRetries times.
	RetryNames  []string `yaml:"retry_names"`
	RetryStatus int      `yaml:"retry_status"`
	MaxRetries  int      `yaml:"max_retries"`

	// BondNames lists name fragments of peripherals that must be bonded
	// before a GATT connection.
	BondNames []string `yaml:"bond_before_connect"`

	Supported []SupportedPeripheral `yaml:"supported"`
}

// Default returns the built in table.
func Default() *Table {
	t := &Table{
		RetryNames:  []string{"SC100", "TNG SCALE", "BP100"},
		RetryStatus: 133,
		MaxRetries:  2,
		BondNames:   []string{"UA-651", "UC-352", "IR20", "TAIDOC TD8255", "TD1107", "Nonin3230"},
		Supported: []SupportedPeripheral{
			{ID: "IR20", Display: "Foracare IR20B", Type: Temperature, Pattern: `(.*IR20.*$).*`},
			{ID: "TD1107", Display: "Taidoc TD1107", Type: Temperature, Pattern: `(.*TD1107.*$).*`},
			{ID: "Taidoc_Device", Display: "Taidoc-Device", Type: Temperature, Pattern: `(.*Taidoc-Device.*$).*`},
			{ID: "TNG_SCALE", Display: "TNG 550", Type: Weight, Pattern: `(.*TNG SCALE.*$).*`},
			{ID: "UC_351", Display: "A&D UC-351", Type: Weight, Pattern: `(.*UC-351.*$).*`},
			{ID: "UC_352", Display: "A&D UC-352 BLE", Type: Weight, Pattern: `(.*UC-352.*$).*`},
			{ID: "UC_355", Display: "A&D UC-355", Type: Weight, Pattern: `(.*UC-355.*$).*`},
			{ID: "WELCH_SC100", Display: "Welch Allyn Scale", Type: Weight, Pattern: `(.*SC100.*$).*`},
			{ID: "TD8255", Display: "Taidoc TD8255", Type: PulseOx, Pattern: `(.*TD8255.*$).*`},
			{ID: "TNG_SPO2", Display: "Foracare TNG SP02", Type: PulseOx, Pattern: `(.*SPO2.*$).*`},
			{ID: "Nonin_Medical", Display: "Nonin Medical Inc 9560", Type: PulseOx, Pattern: `(.*Nonin_Medical.*$).*`},
			{ID: "Nonin3230", Display: "Nonin 3230", Type: PulseOx, Pattern: `(^Nonin3230.*$).*`},
			{ID: "Nipro", Display: "NiproBGM", Type: Glucose, Pattern: `(.*Nipro*$).*`},
			{ID: "TRUEAIR", Display: "TRUEAIR", Type: Glucose, Pattern: `(.*TRUEAIR*$).*`},
			{ID: "TEST_N_GO", Display: "TEST-N-GO", Type: Glucose, Pattern: `(.*TEST-N-GO*$).*`},
			{ID: "UA_651", Display: "A&D UA-651", Type: BloodPressure, Pattern: `(.*UA-651.*$).*`},
			{ID: "UA_767", Display: "A&D UA-767", Type: BloodPressure, Pattern: `(.*UA-767.*$).*`},
			{ID: "WELCH_BP", Display: "Welch Allyn BP Monitor", Type: BloodPressure, Pattern: `(.*BP100.*$).*`},
			// TNG SCALE also contains TNG, keep this last
			{ID: "FORA_TNG_BGM", Display: "TNG", Type: Glucose, Pattern: `TNG`},
		},
	}
	if err := t.compile(); err != nil {
		panic(err)
	}
	return t
}

// None returns a table that applies no workarounds and matches nothing.
func None() *Table {
	return &Table{}
}

// Load reads a YAML table from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading quirks file")
	}
	return Parse(data)
}

// Parse decodes a YAML table.
func Parse(data []byte) (*Table, error) {
	t := &Table{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, errors.Wrap(err, "parsing quirks file")
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return t, nil
}

// compile builds the name matchers. A pattern wrapped as /expr/i matches
// case insensitively. Patterns must match the whole name.
func (t *Table) compile() error {
	for i := range t.Supported {
		s := &t.Supported[i]
		expr := s.Pattern
		flags := ""
		if strings.HasPrefix(expr, "/") && strings.HasSuffix(expr, "/i") && len(expr) > 3 {
			expr = expr[1 : len(expr)-2]
			flags = "(?i)"
		}
		re, err := regexp.Compile(flags + "^(?:" + expr + ")$")
		if err != nil {
			return errors.Wrapf(err, "supported peripheral %s", s.ID)
		}
		s.re = re
	}
	return nil
}

// RetryConnect reports whether a failed connect should be retried.
func (t *Table) RetryConnect(name string, status int, attempt int) bool {
	if status != t.RetryStatus || attempt >= t.MaxRetries {
		return false
	}
	for _, n := range t.RetryNames {
		if name == n {
			return true
		}
	}
	return false
}

// BondBeforeConnect reports whether name needs a bond before connecting.
func (t *Table) BondBeforeConnect(name string) bool {
	if name == "" {
		return false
	}
	for _, n := range t.BondNames {
		if strings.Contains(name, n) {
			return true
		}
	}
	return false
}

// Match returns the first supported peripheral matching name.
func (t *Table) Match(name string) (SupportedPeripheral, bool) {
	if name == "" {
		return SupportedPeripheral{}, false
	}
	for _, s := range t.Supported {
		if s.Matches(name) {
			return s, true
		}
	}
	return SupportedPeripheral{}, false
}
