package blecentral

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/blecentral/sliceops"
)

// uuidBase is the Bluetooth base UUID used to build 128 bit UUIDs from 16 bit ones.
const uuidBase = "0000XXXX-0000-1000-8000-00805f9b34fb"

var baseUUID = UUID(uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb"))

var shortPattern = regexp.MustCompile(`(?i)^0000([0-9a-f]{4})-0000-1000-8000-00805f9b34fb$`)

// UUID is a 128 bit Bluetooth UUID. 16 bit assigned numbers are stored
// expanded against the Bluetooth base UUID so equal values compare equal
// regardless of the form they were given in.
type UUID uuid.UUID

// Parse accepts the 4 character (16 bit) form, the 8 character (32 bit) form
// and any 128 bit form understood by google/uuid.
func Parse(s string) (UUID, error) {
	s = strings.TrimSpace(s)
	switch len(s) {
	case 4:
		s = strings.Replace(uuidBase, "XXXX", s, 1)
	case 8:
		s = s + uuidBase[8:]
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, errors.Wrapf(err, "invalid uuid %q", s)
	}
	return UUID(u), nil
}

// MustParse is like Parse but panics on invalid input.
func MustParse(s string) UUID {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// UUID16 builds a UUID from a 16 bit assigned number.
func UUID16(v uint16) UUID {
	u := baseUUID
	u[2] = byte(v >> 8)
	u[3] = byte(v)
	return u
}

// FromBytesLE builds a UUID from a little endian 2, 4 or 16 byte value as
// found in advertising payloads and ATT PDUs.
func FromBytesLE(b []byte) (UUID, error) {
	switch len(b) {
	case 2:
		return UUID16(uint16(b[1])<<8 | uint16(b[0])), nil
	case 4:
		u := UUID16(0)
		u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
		return u, nil
	case 16:
		var u UUID
		copy(u[:], sliceops.Reverse(b))
		return u, nil
	}
	return UUID{}, errors.Errorf("invalid uuid length %d", len(b))
}

// Long returns the lower case 128 bit form.
func (u UUID) Long() string {
	return uuid.UUID(u).String()
}

// String returns the 16 bit form when u is derived from the Bluetooth base
// UUID and the 128 bit form otherwise.
func (u UUID) String() string {
	l := u.Long()
	if m := shortPattern.FindStringSubmatch(l); m != nil {
		return m[1]
	}
	return l
}

// IsZero reports whether u is the zero value.
func (u UUID) IsZero() bool {
	return u == UUID{}
}

// Equal reports whether u and v denote the same UUID.
func (u UUID) Equal(v UUID) bool {
	return u == v
}

func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UUID) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// ParseList parses every element of ss, failing on the first invalid one.
func ParseList(ss []string) ([]UUID, error) {
	out := make([]UUID, 0, len(ss))
	for _, s := range ss {
		u, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Contains reports whether u is present in list.
func Contains(list []UUID, u UUID) bool {
	for _, v := range list {
		if v == u {
			return true
		}
	}
	return false
}
