package blecentral

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Addr represents a peripheral identifier.
// It's a MAC address on Linux/Android or a device UUID on OS X.
type Addr interface {
	String() string
	Bytes() []byte
}

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// NewAddr creates an Addr from string
func NewAddr(s string) Addr {
	return addr(strings.ToUpper(strings.TrimSpace(s)))
}

// ValidAddr reports whether s looks like a MAC address or a platform device UUID.
func ValidAddr(s string) bool {
	if macPattern.MatchString(s) {
		return true
	}
	_, err := uuid.Parse(s)
	return err == nil
}

type addr string

func (a addr) String() string {
	return string(a)
}

// Bytes returns the address bytes in display order, nil when a is not a MAC.
func (a addr) Bytes() []byte {
	if !macPattern.MatchString(string(a)) {
		return nil
	}
	out, err := hex.DecodeString(strings.Replace(a.String(), ":", "", -1))
	if err != nil {
		return nil
	}
	return out
}
