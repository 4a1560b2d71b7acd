package bridge

import (
	"strings"
	"sync"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/stream"
)

type EventType string

const (
	NotificationStarted EventType = "NOTIFICATION_STARTED"
	NotificationStopped EventType = "NOTIFICATION_STOPPED"
	NotificationResult  EventType = "NOTIFICATION_RESULT"
	ReadResult          EventType = "READ_RESULT"
	DeviceConnected     EventType = "CONNECTED"
	DeviceDisconnected  EventType = "DISCONNECTED"
)

// Event is pushed to the host listener for watched endpoints.
type Event struct {
	MessageID        uint64    `json:"messageId"`
	Type             EventType `json:"type"`
	DeviceID         string    `json:"deviceId"`
	ServiceID        string    `json:"serviceId,omitempty"`
	CharacteristicID string    `json:"characteristicId,omitempty"`
	Data             []byte    `json:"data,omitempty"`
}

// Endpoint selects the events of one characteristic of one device.
type Endpoint struct {
	DeviceID         string `json:"deviceId"`
	ServiceID        string `json:"serviceId"`
	CharacteristicID string `json:"characteristicId"`
}

func (e Endpoint) normalize() Endpoint {
	return Endpoint{
		DeviceID:         normalizeID(e.DeviceID),
		ServiceID:        normalizeUUID(e.ServiceID),
		CharacteristicID: normalizeUUID(e.CharacteristicID),
	}
}

func normalizeID(s string) string {
	return blecentral.NewAddr(s).String()
}

func normalizeUUID(s string) string {
	if s == "" {
		return ""
	}
	u, err := blecentral.Parse(s)
	if err != nil {
		return strings.ToLower(s)
	}
	return u.String()
}

// matches reports whether ev belongs to e. Device level events match every
// endpoint of the device.
func (e Endpoint) matches(ev Event) bool {
	if e.DeviceID != normalizeID(ev.DeviceID) {
		return false
	}
	if ev.ServiceID == "" || ev.CharacteristicID == "" {
		return true
	}
	return e.ServiceID == normalizeUUID(ev.ServiceID) && e.CharacteristicID == normalizeUUID(ev.CharacteristicID)
}

// EventManager filters events against the watched endpoints and hands the
// survivors, in order, to one listener.
type EventManager struct {
	sync.Mutex
	endpoints []Endpoint
	out       *stream.Stream[Event]
	nextID    uint64
}

func NewEventManager() *EventManager {
	return &EventManager{}
}

// Watch adds endpoints.
func (m *EventManager) Watch(endpoints ...Endpoint) {
	m.Lock()
	defer m.Unlock()
	for _, e := range endpoints {
		m.endpoints = append(m.endpoints, e.normalize())
	}
}

// Unwatch removes every copy of endpoints.
func (m *EventManager) Unwatch(endpoints ...Endpoint) {
	m.Lock()
	defer m.Unlock()
	for _, e := range endpoints {
		e = e.normalize()
		kept := m.endpoints[:0]
		for _, w := range m.endpoints {
			if w != e {
				kept = append(kept, w)
			}
		}
		m.endpoints = kept
	}
}

// Watched returns a copy of the watched endpoints.
func (m *EventManager) Watched() []Endpoint {
	m.Lock()
	defer m.Unlock()
	return append([]Endpoint(nil), m.endpoints...)
}

// SetListener replaces the listener. l is called from one goroutine.
func (m *EventManager) SetListener(l func(Event)) {
	s := stream.New[Event]()

	m.Lock()
	old := m.out
	m.out = s
	m.Unlock()

	if old != nil {
		old.Cancel()
	}
	go func() {
		for ev := range s.Events() {
			l(ev)
		}
	}()
}

// RemoveListener drops the listener and any event not yet delivered.
func (m *EventManager) RemoveListener() {
	m.Lock()
	old := m.out
	m.out = nil
	m.Unlock()

	if old != nil {
		old.Cancel()
	}
}

// Send stamps ev with the next message id and delivers it if a watched
// endpoint matches. It reports whether the event was delivered.
func (m *EventManager) Send(ev Event) bool {
	m.Lock()
	defer m.Unlock()

	m.nextID++
	ev.MessageID = m.nextID
	if m.out == nil {
		return false
	}
	for _, e := range m.endpoints {
		if e.matches(ev) {
			return m.out.Send(ev)
		}
	}
	return false
}
