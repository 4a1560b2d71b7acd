package blecentral

import (
	"strings"

	"github.com/pkg/errors"
)

// Advertisement is a decoded advertising payload.
type Advertisement struct {
	Flags            byte
	LocalName        string
	Services         []UUID
	Solicited        []UUID
	ServiceData      map[UUID][]byte
	ManufacturerData []byte
	TxPower          *int
}

// AdvertisementMapKeys names the fields of a decoded payload in map form.
var AdvertisementMapKeys = struct {
	Flags       string
	Name        string
	MFG         string
	Services    string
	ServiceData string
	Solicited   string
	TxPower     string
}{
	Flags:       "flags",
	Name:        "name",
	MFG:         "mfg",
	Services:    "services",
	ServiceData: "serviceData",
	Solicited:   "solicited",
	TxPower:     "txPower",
}

// ScanOptions are the platform scanner settings. Empty strings leave the
// platform default in place.
type ScanOptions struct {
	ScanMode         string `json:"scanMode,omitempty" yaml:"scan_mode"`
	CallbackType     string `json:"callbackType,omitempty" yaml:"callback_type"`
	MatchMode        string `json:"matchMode,omitempty" yaml:"match_mode"`
	NumOfMatches     string `json:"numOfMatches,omitempty" yaml:"num_of_matches"`
	Phy              string `json:"phy,omitempty" yaml:"phy"`
	Legacy           *bool  `json:"legacy,omitempty" yaml:"legacy"`
	ReportDelay      int64  `json:"reportDelay" yaml:"report_delay"`
	ReportDuplicates bool   `json:"reportDuplicates" yaml:"report_duplicates"`
}

// DefaultScanOptions leaves every platform setting untouched.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{ReportDelay: -1}
}

var scanChoices = []struct {
	name   string
	get    func(o ScanOptions) string
	values []string
}{
	{"scanMode", func(o ScanOptions) string { return o.ScanMode }, []string{"lowPower", "balanced", "lowLatency", "opportunistic"}},
	{"callbackType", func(o ScanOptions) string { return o.CallbackType }, []string{"all", "first", "lost"}},
	{"matchMode", func(o ScanOptions) string { return o.MatchMode }, []string{"aggressive", "sticky"}},
	{"numOfMatches", func(o ScanOptions) string { return o.NumOfMatches }, []string{"one", "few", "max"}},
	{"phy", func(o ScanOptions) string { return o.Phy }, []string{"1m", "coded", "all"}},
}

// Validate rejects unknown option values, naming the accepted set.
func (o ScanOptions) Validate() error {
	for _, c := range scanChoices {
		v := c.get(o)
		if v == "" {
			continue
		}
		ok := false
		for _, allowed := range c.values {
			if v == allowed {
				ok = true
				break
			}
		}
		if !ok {
			return errors.Errorf("%s must be one of: %s", c.name, strings.Join(c.values, " | "))
		}
	}
	return nil
}
