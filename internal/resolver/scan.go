package resolver

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/radio"
)

// scanShare runs one hardware scan for any number of concurrent consumers.
// Every consumer sees every Discovered event on the bus and filters on its
// own; the share only makes sure the radio scans for the union of what they
// asked for and stops once the last one leaves.
type scanShare struct {
	radio  radio.Central
	logger *logrus.Logger

	mu        sync.Mutex
	leases    map[uint64]*scanLease
	nextLease uint64
	active    []string
	scanning  bool
	dup       bool
}

// scanLease is one consumer's hold on the shared scan. lost receives the
// radio's error when the scan could not be kept running for it.
type scanLease struct {
	services []string // nil scans everything
	lost     chan error
}

func newScanShare(r radio.Central, logger *logrus.Logger) *scanShare {
	return &scanShare{radio: r, logger: logger, leases: make(map[uint64]*scanLease)}
}

// acquire joins or starts the scan. The returned release is idempotent. The
// lost channel yields an error if a later change to the shared scan leaves
// the radio not scanning.
func (s *scanShare) acquire(services []string, allowDuplicates bool) (func(), <-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLease++
	id := s.nextLease
	lease := &scanLease{services: services, lost: make(chan error, 1)}
	s.leases[id] = lease

	want := s.union()
	dup := s.dup || allowDuplicates
	if !s.scanning || !sameFilter(want, s.active) || dup != s.dup {
		wasScanning := s.scanning
		if wasScanning {
			s.logger.WithFields(logrus.Fields{
				"from": s.active,
				"to":   want,
			}).Debug("Widening shared scan")
			if err := s.radio.StopScan(); err != nil {
				s.logger.WithError(err).Debug("Stop scan before widening failed")
			}
		}
		if err := s.radio.Scan(radio.ScanOptions{Services: want, AllowDuplicates: dup}); err != nil {
			delete(s.leases, id)
			if wasScanning {
				s.restoreLocked(err)
			}
			return nil, nil, err
		}
		s.scanning, s.active, s.dup = true, want, dup
	}
	s.logger.WithField("consumers", len(s.leases)).Debug("Joined scan")

	var once sync.Once
	return func() { once.Do(func() { s.release(id) }) }, lease.lost, nil
}

// restoreLocked restarts the scan the remaining leases were served by after
// a failed widening. If the radio refuses that too, every lease is failed
// with cause and dropped.
func (s *scanShare) restoreLocked(cause error) {
	err := s.radio.Scan(radio.ScanOptions{Services: s.active, AllowDuplicates: s.dup})
	if err == nil {
		s.logger.WithField("services", s.active).Debug("Widening failed, previous scan restored")
		return
	}
	s.logger.WithError(err).Warn("Shared scan lost")
	for id, l := range s.leases {
		l.lost <- cause
		delete(s.leases, id)
	}
	s.scanning, s.active, s.dup = false, nil, false
}

func (s *scanShare) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leases[id]; !ok {
		return
	}
	delete(s.leases, id)
	if len(s.leases) > 0 || !s.scanning {
		return
	}
	s.scanning, s.active, s.dup = false, nil, false
	if err := s.radio.StopScan(); err != nil {
		s.logger.WithError(err).Debug("Stop scan failed")
	}
	s.logger.Debug("Last consumer left, scan stopped")
}

// union of the lease filters. Any unfiltered lease makes the scan unfiltered.
func (s *scanShare) union() []string {
	var out []string
	for _, l := range s.leases {
		f := l.services
		if len(f) == 0 {
			return nil
		}
		for _, u := range f {
			if !device.ContainsUUID(out, u) {
				out = append(out, device.NormalizeUUID(u))
			}
		}
	}
	return out
}

func sameFilter(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, u := range a {
		if !device.ContainsUUID(b, u) {
			return false
		}
	}
	return true
}
