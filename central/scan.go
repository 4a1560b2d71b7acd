package central

import (
	"time"

	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/parser"
	"github.com/rigado/blecentral/peripheral"
	"github.com/rigado/blecentral/stream"
)

type ScanEventKind int

const (
	// ScanDiscovered carries a sighting.
	ScanDiscovered ScanEventKind = iota
	// ScanEnd is the last event of a scan stopped by StopScan or its duration.
	ScanEnd
)

// ScanEndSuccess labels the terminal ScanEnd event.
const ScanEndSuccess = "scanEndSuccess"

type ScanEvent struct {
	Kind ScanEventKind
	Info peripheral.Info
}

type scan struct {
	services []blecentral.UUID
	opts     blecentral.ScanOptions
	events   *stream.Stream[ScanEvent]
	timer    *time.Timer
}

// Scan starts discovery of peripherals advertising one of services, all
// peripherals when services is empty. A positive duration stops the scan
// after it elapses. Idle peripherals from earlier scans are forgotten.
func (c *Central) Scan(services []blecentral.UUID, duration time.Duration, opts blecentral.ScanOptions) (*stream.Stream[ScanEvent], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if c.adapter.State() != blecentral.AdapterOn {
		return nil, errors.New(MsgBluetoothDisabled)
	}

	c.Lock()
	if c.closed {
		c.Unlock()
		return nil, errors.New("central closed")
	}
	if c.scan != nil {
		c.Unlock()
		return nil, errors.New("Scan already running")
	}
	s := &scan{
		services: services,
		opts:     opts,
		events:   stream.New[ScanEvent](),
	}
	c.scan = s
	c.Unlock()

	if n := c.reg.EvictIdle(); n > 0 {
		c.Debugf("scan: evicted %d idle peripherals", n)
	}

	err := c.adapter.StartScan(blecentral.ScanFilter{Services: services}, opts, func(rec blecentral.ScanRecord) {
		c.onScanRecord(s, rec)
	})
	if err != nil {
		c.Lock()
		if c.scan == s {
			c.scan = nil
		}
		c.Unlock()
		s.events.End(err)
		return nil, errors.Wrap(err, "start scan")
	}

	if duration > 0 {
		c.Lock()
		s.timer = time.AfterFunc(duration, func() {
			c.endScan(s, nil)
		})
		c.Unlock()
	}
	c.Infof("scan started (services=%v, duration=%v)", services, duration)
	return s.events, nil
}

// StopScan stops a running scan. Stopping with no scan running succeeds.
func (c *Central) StopScan() error {
	c.Lock()
	s := c.scan
	c.Unlock()
	if s == nil {
		return nil
	}
	return c.endScan(s, nil)
}

// IsScanning reports whether a scan is running.
func (c *Central) IsScanning() bool {
	c.Lock()
	defer c.Unlock()
	return c.scan != nil
}

// endScan stops s if it is still the running scan. A nil reason ends the
// stream with a ScanEnd event.
func (c *Central) endScan(s *scan, reason error) error {
	c.Lock()
	if c.scan != s {
		c.Unlock()
		return nil
	}
	c.scan = nil
	if s.timer != nil {
		s.timer.Stop()
	}
	c.Unlock()

	err := c.adapter.StopScan()
	if err != nil {
		err = errors.Wrap(err, "stop scan")
	}

	if reason != nil {
		s.events.End(reason)
		return err
	}
	s.events.Send(ScanEvent{Kind: ScanEnd})
	s.events.End(nil)
	c.Debugf("scan stopped")
	return err
}

func (c *Central) onScanRecord(s *scan, rec blecentral.ScanRecord) {
	c.Lock()
	running := c.scan == s
	c.Unlock()
	if !running || rec.Addr == nil {
		return
	}
	if !matches(s.services, rec) {
		return
	}

	p, first := c.reg.Upsert(rec)
	if first || s.opts.ReportDuplicates {
		s.events.Send(ScanEvent{Kind: ScanDiscovered, Info: p.Info()})
	}
}

// matches filters sightings for backends that cannot filter themselves.
func matches(services []blecentral.UUID, rec blecentral.ScanRecord) bool {
	if len(services) == 0 {
		return true
	}
	for _, u := range services {
		if blecentral.Contains(rec.Services, u) {
			return true
		}
	}
	return parser.Advertises(rec.Advertising, services)
}
