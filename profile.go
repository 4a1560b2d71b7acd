package blecentral

// Property is the characteristic properties bit field.
type Property int

const (
	CharBroadcast   Property = 0x01
	CharRead        Property = 0x02
	CharWriteNR     Property = 0x04
	CharWrite       Property = 0x08
	CharNotify      Property = 0x10
	CharIndicate    Property = 0x20
	CharSignedWrite Property = 0x40
	CharExtended    Property = 0x80
)

var propertyNames = []struct {
	p    Property
	name string
}{
	{CharBroadcast, "Broadcast"},
	{CharRead, "Read"},
	{CharWriteNR, "WriteWithoutResponse"},
	{CharWrite, "Write"},
	{CharNotify, "Notify"},
	{CharIndicate, "Indicate"},
	{CharSignedWrite, "AuthenticateSignedWrites"},
	{CharExtended, "ExtendedProperties"},
}

// Has reports whether every bit of q is set in p.
func (p Property) Has(q Property) bool { return p&q == q }

// Strings names the set bits; the names are shared across platforms.
func (p Property) Strings() []string {
	out := []string{}
	for _, pn := range propertyNames {
		if p&pn.p != 0 {
			out = append(out, pn.name)
		}
	}
	return out
}

// Permission is the attribute permission bit field.
type Permission int

const (
	PermRead               Permission = 0x01
	PermReadEncrypted      Permission = 0x02
	PermReadEncryptedMITM  Permission = 0x04
	PermWrite              Permission = 0x10
	PermWriteEncrypted     Permission = 0x20
	PermWriteEncryptedMITM Permission = 0x40
	PermWriteSigned        Permission = 0x80
	PermWriteSignedMITM    Permission = 0x100
)

var permissionNames = []struct {
	p    Permission
	name string
}{
	{PermRead, "Read"},
	{PermWrite, "Write"},
	{PermReadEncrypted, "ReadEncrypted"},
	{PermWriteEncrypted, "WriteEncrypted"},
	{PermReadEncryptedMITM, "ReadEncryptedMITM"},
	{PermWriteEncryptedMITM, "WriteEncryptedMITM"},
	{PermWriteSigned, "WriteSigned"},
	{PermWriteSignedMITM, "WriteSignedMITM"},
}

func (p Permission) Strings() []string {
	out := []string{}
	for _, pn := range permissionNames {
		if p&pn.p != 0 {
			out = append(out, pn.name)
		}
	}
	return out
}

// ClientCharacteristicConfigUUID is the descriptor toggled to enable notify/indicate.
var ClientCharacteristicConfigUUID = UUID16(0x2902)

// Descriptor values for the client characteristic configuration.
var (
	EnableNotificationValue  = []byte{0x01, 0x00}
	EnableIndicationValue    = []byte{0x02, 0x00}
	DisableNotificationValue = []byte{0x00, 0x00}
)

// Descriptor is a characteristic descriptor.
type Descriptor struct {
	UUID        UUID       `json:"uuid"`
	Permissions Permission `json:"permissions,omitempty"`
	Handle      uint16     `json:"handle,omitempty"`
}

// Characteristic is a discovered characteristic. InstanceID tells apart
// characteristics sharing a UUID within one service.
type Characteristic struct {
	Service     UUID          `json:"service"`
	UUID        UUID          `json:"uuid"`
	InstanceID  int           `json:"instanceId"`
	Properties  Property      `json:"properties"`
	Permissions Permission    `json:"permissions,omitempty"`
	Descriptors []*Descriptor `json:"descriptors,omitempty"`
	Handle      uint16        `json:"handle,omitempty"`
}

// Descriptor returns the descriptor with uuid u, nil if absent.
func (c *Characteristic) Descriptor(u UUID) *Descriptor {
	for _, d := range c.Descriptors {
		if d.UUID == u {
			return d
		}
	}
	return nil
}

// Service is a discovered primary service.
type Service struct {
	UUID            UUID              `json:"uuid"`
	Characteristics []*Characteristic `json:"characteristics"`
}

// NewService creates a service with no characteristics.
func NewService(u UUID) *Service {
	return &Service{UUID: u}
}

// NewCharacteristic adds a characteristic to s and returns it. InstanceID
// is assigned in discovery order.
func (s *Service) NewCharacteristic(u UUID, p Property) *Characteristic {
	c := &Characteristic{
		Service:    s.UUID,
		UUID:       u,
		InstanceID: len(s.Characteristics),
		Properties: p,
	}
	s.Characteristics = append(s.Characteristics, c)
	return c
}

// Profile is the result of service discovery.
type Profile struct {
	Services []*Service `json:"services"`
}

// FindService returns the first service with uuid u.
func (p *Profile) FindService(u UUID) *Service {
	if p == nil {
		return nil
	}
	for _, s := range p.Services {
		if s.UUID == u {
			return s
		}
	}
	return nil
}
