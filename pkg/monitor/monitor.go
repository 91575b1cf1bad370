// Package monitor builds higher-level monitoring views on top of a coordinator: the composite
// per-station picture of a device, periodic data subscriptions, and a firmware compatibility
// gate. Everything reads through the coordinator, so monitors stacked on the same device share
// wire batches instead of multiplying them.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/coordinator"
	"github.com/wrtkit/router-command/pkg/protocol"
	"github.com/wrtkit/router-command/pkg/registry"
	"github.com/wrtkit/router-command/pkg/state"
)

// Source is the part of a coordinator the monitor reads through. *coordinator.Coordinator
// implements it.
type Source interface {
	Get(ctx context.Context, key registry.DataKey) (interface{}, error)
	GetCombined(ctx context.Context, keys ...registry.DataKey) map[registry.DataKey]coordinator.Outcome
	Registry() *registry.Registry
}

// NameSource selects where station hostnames come from.
type NameSource int

const (
	// NamesAuto reads the dnsmasq lease file when the device configures one, falling back to
	// odhcpd.
	NamesAuto NameSource = iota
	// NamesDnsmasq reads the lease file named by the device's dnsmasq configuration.
	NamesDnsmasq
	// NamesOdhcpd queries odhcpd leases over ubus.
	NamesOdhcpd
	// NamesNone skips hostname resolution entirely.
	NamesNone
)

// A StationReport is one associated wireless client: its link statistics from iwinfo and, when
// a DHCP lease matches, the name and address the lease carries.
type StationReport struct {
	MAC      string
	Radio    string
	Hostname string
	IP       string
	Link     state.Station
}

// A StationSet is the composite station view of one device at one instant, keyed by normalized
// MAC address.
type StationSet struct {
	Radios   []string
	Stations map[string]StationReport
	Taken    time.Time
}

// StationMonitor assembles the per-station view of a device: which clients are associated to
// which radio, how their links perform, and what their DHCP leases call them. Radios are
// discovered through iwinfo and their station-list capabilities registered on first sight, so
// a monitor needs no per-device configuration.
type StationMonitor struct {
	source Source
	names  NameSource
}

// NewStationMonitor creates a monitor reading through source.
func NewStationMonitor(source Source, names NameSource) *StationMonitor {
	return &StationMonitor{source: source, names: names}
}

// Stations returns the current station view. Radios whose station list is unavailable are
// skipped with a warning; Stations fails only when the radio list itself cannot be read or no
// radio delivers. Name resolution is best effort and never fails the view.
func (m *StationMonitor) Stations(ctx context.Context) (*StationSet, error) {
	value, err := m.source.Get(ctx, registry.RadioDevices)
	if err != nil {
		return nil, err
	}
	radios, ok := value.(*state.RadioList)
	if !ok {
		return nil, fmt.Errorf("%w: iwinfo devices decoded to %T", protocol.ErrBadResponse, value)
	}

	keys := make([]registry.DataKey, 0, len(radios.Devices))
	for _, radio := range radios.Devices {
		m.ensure(registry.StationListCapability(radio))
		keys = append(keys, registry.StationListKey(radio))
	}

	set := &StationSet{
		Radios:   append([]string(nil), radios.Devices...),
		Stations: make(map[string]StationReport),
		Taken:    time.Now(),
	}
	if len(keys) == 0 {
		return set, nil
	}

	names := m.hostRecords(ctx)
	outcomes := m.source.GetCombined(ctx, keys...)
	var firstErr error
	served := 0
	for i, radio := range radios.Devices {
		outcome := outcomes[keys[i]]
		if outcome.Err != nil {
			if firstErr == nil {
				firstErr = outcome.Err
			}
			log.Warning("Station list for %s unavailable: %s", radio, outcome.Err)
			continue
		}
		stations, ok := outcome.Value.(*state.StationList)
		if !ok {
			log.Warning("Station list for %s decoded to %T", radio, outcome.Value)
			continue
		}
		served++
		for _, station := range stations.Results {
			mac := state.NormalizeMAC(station.MAC)
			report := StationReport{MAC: mac, Radio: radio, Link: station}
			if record, ok := names[mac]; ok {
				report.Hostname = record.Hostname
				report.IP = record.IP
			}
			set.Stations[mac] = report
		}
	}
	if served == 0 && firstErr != nil {
		return nil, firstErr
	}
	return set, nil
}

// hostRecords resolves lease names for the configured source. Failures leave stations unnamed.
func (m *StationMonitor) hostRecords(ctx context.Context) map[string]state.HostRecord {
	switch m.names {
	case NamesNone:
		return nil
	case NamesDnsmasq:
		records, err := m.dnsmasqRecords(ctx)
		if err != nil {
			log.Warning("Reading dnsmasq leases: %s", err)
		}
		return records
	case NamesOdhcpd:
		records, err := m.odhcpdRecords(ctx)
		if err != nil {
			log.Warning("Reading odhcpd leases: %s", err)
		}
		return records
	default:
		records, err := m.dnsmasqRecords(ctx)
		if records != nil && err == nil {
			return records
		}
		if err != nil {
			log.Debug("Falling back to odhcpd leases: %s", err)
		}
		records, err = m.odhcpdRecords(ctx)
		if err != nil {
			log.Warning("Reading DHCP leases: %s", err)
		}
		return records
	}
}

// dnsmasqRecords reads the lease file dnsmasq is configured to write. It returns nil records
// and a nil error when the device's DHCP configuration names no lease file.
func (m *StationMonitor) dnsmasqRecords(ctx context.Context) (map[string]state.HostRecord, error) {
	value, err := m.source.Get(ctx, registry.DHCPConfig)
	if err != nil {
		return nil, err
	}
	config, ok := value.(*state.UCIDHCPConfig)
	if !ok {
		return nil, fmt.Errorf("%w: uci dhcp decoded to %T", protocol.ErrBadResponse, value)
	}
	path := config.LeaseFile()
	if path == "" {
		return nil, nil
	}
	m.ensure(registry.FileReadCapability(path))
	value, err = m.source.Get(ctx, registry.FileReadKey(path))
	if err != nil {
		return nil, err
	}
	file, ok := value.(*state.FileContents)
	if !ok {
		return nil, fmt.Errorf("%w: file read decoded to %T", protocol.ErrBadResponse, value)
	}
	return state.ParseLeaseFile(file.Data), nil
}

func (m *StationMonitor) odhcpdRecords(ctx context.Context) (map[string]state.HostRecord, error) {
	value, err := m.source.Get(ctx, registry.DHCPLeases)
	if err != nil {
		return nil, err
	}
	table, ok := value.(*state.LeaseTable)
	if !ok {
		return nil, fmt.Errorf("%w: dhcp ipv4leases decoded to %T", protocol.ErrBadResponse, value)
	}
	records := make(map[string]state.HostRecord)
	for mac, lease := range table.ByMAC() {
		records[mac] = state.HostRecord{Hostname: lease.Hostname, IP: lease.IPAddress()}
	}
	return records, nil
}

// ensure registers a parameterized capability the first time its interface is seen. Losing a
// race to an identical registration is harmless.
func (m *StationMonitor) ensure(c registry.Capability) {
	reg := m.source.Registry()
	if _, ok := reg.Lookup(c.Key); ok {
		return
	}
	_ = reg.Register(c)
}
