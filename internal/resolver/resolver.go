// Package resolver turns device identifiers into peripherals, using the
// cheapest source that can answer: the radio's memory of known peripherals,
// then peripherals already connected to the system, then an active scan.
package resolver

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/radio"
)

const defaultScanBuffer = 256

// Options tune a resolution.
type Options struct {
	// Services filters the scan and enables the connected-peripherals widening.
	Services []string
	// AllowDuplicates asks the radio to report every advertisement.
	AllowDuplicates bool
	// ScanBuffer bounds the discovery backlog kept for a slow consumer; the
	// oldest sightings are dropped first.
	ScanBuffer int
}

type Resolver struct {
	bus    *eventbus.Bus
	radio  radio.Central
	logger *logrus.Logger
	scans  *scanShare
}

func New(bus *eventbus.Bus, r radio.Central, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{
		bus:    bus,
		radio:  r,
		logger: logger,
		scans:  newScanShare(r, logger),
	}
}

// Plan answers ids without scanning. known is ordered as ids; missing lists
// the ids nothing could answer, also in request order.
//
// Results of the live queries are published as PeripheralsRetrieved so the
// Known-Peripheral Set learns them.
func (r *Resolver) Plan(ids []device.DeviceID, opts Options) (known []device.Peripheral, missing []device.DeviceID, err error) {
	if err := validate(ids, opts); err != nil {
		return nil, nil, err
	}
	log := r.logger.WithField("ids", ids)

	byID, err := r.radio.RetrievePeripherals(ids)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve known peripherals: %w", err)
	}
	byID = onlyRequested(byID, ids)
	if len(byID) > 0 {
		r.bus.Publish(eventbus.PeripheralsRetrieved{Peripherals: byID})
	}
	known = byID
	missing = device.MissingIDs(ids, device.PeripheralIDs(known))
	if len(missing) == 0 {
		log.Debug("All peripherals known, no scan needed")
		return orderAs(known, ids), nil, nil
	}

	if len(opts.Services) > 0 {
		connected, err := r.radio.RetrieveConnectedPeripherals(opts.Services)
		if err != nil {
			return nil, nil, fmt.Errorf("retrieve connected peripherals: %w", err)
		}
		if len(connected) > 0 {
			r.bus.Publish(eventbus.PeripheralsRetrieved{Peripherals: connected, Connected: true, Services: opts.Services})
		}
		known = device.MergePeripherals(known, onlyRequested(connected, ids))
		missing = device.MissingIDs(ids, device.PeripheralIDs(known))
	}

	log.WithFields(logrus.Fields{
		"known":   len(known),
		"missing": missing,
	}).Debug("Resolution plan")
	return orderAs(known, ids), missing, nil
}

// Resolve yields the known peripherals among ids first, then, if any are
// still missing, scans and yields every sighting of a missing id in radio
// arrival order.
//
// The scan sequence is unbounded and not deduplicated: a peripheral is
// yielded each time the radio reports it, and scanning continues until the
// consumer stops iterating or ctx ends. Errors are yielded once and end the
// sequence; ctx ending yields ctx.Err().
func (r *Resolver) Resolve(ctx context.Context, ids []device.DeviceID, opts Options) iter.Seq2[device.Peripheral, error] {
	return func(yield func(device.Peripheral, error) bool) {
		known, missing, err := r.Plan(ids, opts)
		if err != nil {
			yield(device.Peripheral{}, err)
			return
		}
		for _, p := range known {
			if !yield(p, nil) {
				return
			}
		}
		if len(missing) == 0 {
			return
		}
		r.scan(ctx, missing, opts, yield)
	}
}

// Scan yields every sighting of a peripheral advertising one of
// opts.Services (any peripheral when empty), in radio arrival order. It
// shares the hardware scan with concurrent resolutions and ends like the
// scanning part of Resolve.
func (r *Resolver) Scan(ctx context.Context, opts Options) iter.Seq2[device.Peripheral, error] {
	return func(yield func(device.Peripheral, error) bool) {
		if len(opts.Services) > 0 {
			if _, err := device.ValidateUUID(opts.Services...); err != nil {
				yield(device.Peripheral{}, err)
				return
			}
		}
		r.scan(ctx, nil, opts, yield)
	}
}

// scan yields sightings of the missing ids; nil missing yields every sighting.
func (r *Resolver) scan(ctx context.Context, missing []device.DeviceID, opts Options, yield func(device.Peripheral, error) bool) {
	buffer := opts.ScanBuffer
	if buffer <= 0 {
		buffer = defaultScanBuffer
	}
	var want map[device.DeviceID]struct{}
	if missing != nil {
		want = make(map[device.DeviceID]struct{}, len(missing))
		for _, id := range missing {
			want[id] = struct{}{}
		}
	}
	log := r.logger.WithField("missing", missing)

	// Subscribe before scanning so no sighting can slip between the two.
	sub := r.bus.SubscribeChan("resolver-scan", buffer, eventbus.KindDiscovered, eventbus.KindStateChanged)
	defer sub.Cancel()
	if sub.Cancelled() {
		yield(device.Peripheral{}, device.ErrClosed)
		return
	}

	release, lost, err := r.scans.acquire(opts.Services, opts.AllowDuplicates)
	if err != nil {
		yield(device.Peripheral{}, fmt.Errorf("start scan: %w", err))
		return
	}
	defer release()
	log.Debug("Scanning")

	for {
		select {
		case <-ctx.Done():
			yield(device.Peripheral{}, ctx.Err())
			return
		case err := <-lost:
			yield(device.Peripheral{}, fmt.Errorf("scan stopped: %w", err))
			return
		case ev, ok := <-sub.C():
			if !ok {
				yield(device.Peripheral{}, device.ErrClosed)
				return
			}
			switch e := ev.(type) {
			case eventbus.Discovered:
				if want != nil {
					if _, ok := want[e.Peripheral.ID]; !ok {
						continue
					}
				}
				// The hardware scan may be wider than this consumer's filter
				// while it is shared.
				if !advertisesAny(e.Peripheral, opts.Services) {
					continue
				}
				log.WithField("device", e.Peripheral.ID).Trace("Peripheral sighted")
				if !yield(e.Peripheral, nil) {
					return
				}
			case eventbus.StateChanged:
				if e.State != device.StatePoweredOn {
					yield(device.Peripheral{}, fmt.Errorf("scan interrupted (%s): %w", e.State, device.ErrBluetoothOff))
					return
				}
			}
		}
	}
}

// ResolveAll collects one snapshot per requested id, ordered as ids, and
// stops scanning as soon as every id has been seen. Bound it with ctx: a
// peripheral that never advertises keeps it scanning until ctx ends, in
// which case the peripherals found so far are returned with ctx.Err().
func (r *Resolver) ResolveAll(ctx context.Context, ids []device.DeviceID, opts Options) ([]device.Peripheral, error) {
	found := make(map[device.DeviceID]device.Peripheral, len(ids))
	var list []device.Peripheral

	for p, err := range r.Resolve(ctx, ids, opts) {
		if err != nil {
			return orderAs(list, ids), err
		}
		if prev, seen := found[p.ID]; seen {
			found[p.ID] = prev.Merge(p)
			continue
		}
		found[p.ID] = p
		list = append(list, p)
		if len(found) == len(uniqueIDs(ids)) {
			break
		}
	}
	for i := range list {
		list[i] = found[list[i].ID]
	}
	return orderAs(list, ids), nil
}

// advertisesAny reports whether p advertises one of services. An empty
// services list matches every peripheral.
func advertisesAny(p device.Peripheral, services []string) bool {
	if len(services) == 0 {
		return true
	}
	for _, u := range services {
		if device.ContainsUUID(p.Services, u) {
			return true
		}
	}
	return false
}

func validate(ids []device.DeviceID, opts Options) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one device id is required", device.ErrInvalidIdentifier)
	}
	for i, id := range ids {
		if id.IsZero() {
			return fmt.Errorf("%w: device id at index %d is empty", device.ErrInvalidIdentifier, i)
		}
	}
	if len(opts.Services) > 0 {
		if _, err := device.ValidateUUID(opts.Services...); err != nil {
			return err
		}
	}
	return nil
}

func onlyRequested(ps []device.Peripheral, ids []device.DeviceID) []device.Peripheral {
	var out []device.Peripheral
	for _, p := range ps {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// orderAs sorts ps by the position of their id in ids.
func orderAs(ps []device.Peripheral, ids []device.DeviceID) []device.Peripheral {
	pos := make(map[device.DeviceID]int, len(ids))
	for i, id := range ids {
		if _, ok := pos[id]; !ok {
			pos[id] = i
		}
	}
	out := append([]device.Peripheral(nil), ps...)
	sort.SliceStable(out, func(i, j int) bool { return pos[out[i].ID] < pos[out[j].ID] })
	return out
}

func uniqueIDs(ids []device.DeviceID) []device.DeviceID {
	return device.MissingIDs(ids, nil)
}
