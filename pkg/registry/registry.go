// Package registry defines the capability table that maps monitored data keys onto ubus calls,
// and the actions a device accepts. A coordinator consults the table for fetch parameters,
// freshness TTLs, and retry policy; adding a new monitored data type only requires a new entry.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wrtkit/router-command/pkg/state"
)

// A DataKey identifies one monitored data type.
type DataKey string

// Builtin data keys.
const (
	SystemBoard  DataKey = "system_board"
	SystemInfo   DataKey = "system_info"
	ModemInfo    DataKey = "qmodem_info"
	RadioDevices DataKey = "iwinfo_devices"
	DHCPLeases   DataKey = "dhcp_ipv4leases"
	DHCPConfig   DataKey = "uci_dhcp"
)

// TTL tiers by volatility. Station and link state churns within seconds; hardware identity and
// configuration barely change at all.
const (
	TTLFast   = 30 * time.Second
	TTLMedium = time.Minute
	TTLSlow   = 2 * time.Minute
	TTLStatic = 5 * time.Minute
)

// A Capability describes how one DataKey is fetched: the remote object and method, the parameter
// template, the freshness TTL, and how many transient failures are retried per fetch. Entries are
// immutable once registered.
type Capability struct {
	Key     DataKey
	Object  string
	Method  string
	Params  map[string]interface{}
	TTL     time.Duration
	Retries int

	// Decode converts the raw payload into the key's typed value. Nil keeps the payload as
	// json.RawMessage.
	Decode func(json.RawMessage) (interface{}, error)
}

// Registry is a concurrency-safe capability table.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[DataKey]Capability
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{capabilities: make(map[DataKey]Capability)}
}

// Builtin returns a Registry preloaded with the standard OpenWrt capability table.
func Builtin() *Registry {
	r := New()
	for _, capability := range builtinTable {
		r.MustRegister(capability)
	}
	return r
}

// Register adds a capability. It rejects incomplete entries and keys that are already present;
// existing entries never change.
func (r *Registry) Register(c Capability) error {
	if c.Key == "" || c.Object == "" || c.Method == "" {
		return fmt.Errorf("capability %q: key, object, and method are required", c.Key)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("capability %q: TTL must be positive", c.Key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.capabilities[c.Key]; exists {
		return fmt.Errorf("capability %q already registered", c.Key)
	}
	r.capabilities[c.Key] = c
	return nil
}

// MustRegister is Register for tables built at startup; it panics on error.
func (r *Registry) MustRegister(c Capability) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the capability for key.
func (r *Registry) Lookup(key DataKey) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[key]
	return c, ok
}

// Keys returns all registered keys in sorted order.
func (r *Registry) Keys() []DataKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]DataKey, 0, len(r.capabilities))
	for key := range r.capabilities {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Clone returns an independent copy, so per-device TTL overrides do not leak into the shared
// builtin table.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := New()
	for key, capability := range r.capabilities {
		clone.capabilities[key] = capability
	}
	return clone
}

// OverrideTTL returns a copy of the registry with new TTLs for the given keys. Unknown keys are
// ignored.
func (r *Registry) OverrideTTL(ttls map[DataKey]time.Duration) *Registry {
	clone := r.Clone()
	clone.mu.Lock()
	defer clone.mu.Unlock()
	for key, ttl := range ttls {
		if capability, ok := clone.capabilities[key]; ok && ttl > 0 {
			capability.TTL = ttl
			clone.capabilities[key] = capability
		}
	}
	return clone
}

var builtinTable = []Capability{
	{Key: SystemBoard, Object: "system", Method: "board", TTL: TTLStatic, Retries: 2, Decode: state.DecodeBoardInfo},
	{Key: SystemInfo, Object: "system", Method: "info", TTL: TTLSlow, Retries: 2, Decode: state.DecodeSystemInfo},
	{Key: ModemInfo, Object: "modem_ctrl", Method: "info", TTL: TTLMedium, Retries: 1, Decode: state.DecodeModemInfo},
	{Key: RadioDevices, Object: "iwinfo", Method: "devices", TTL: TTLMedium, Retries: 2, Decode: state.DecodeRadioList},
	{Key: DHCPLeases, Object: "dhcp", Method: "ipv4leases", TTL: TTLFast, Retries: 1, Decode: state.DecodeLeaseTable},
	{Key: DHCPConfig, Object: "uci", Method: "get", Params: map[string]interface{}{"config": "dhcp", "type": "dnsmasq"}, TTL: TTLStatic, Retries: 2, Decode: state.DecodeUCIDHCPConfig},
}

// StationListKey is the parameterized key tracking stations associated with one wireless
// interface.
func StationListKey(device string) DataKey {
	return DataKey("iwinfo_assoclist:" + device)
}

// StationListCapability builds the capability behind StationListKey(device).
func StationListCapability(device string) Capability {
	return Capability{
		Key:     StationListKey(device),
		Object:  "iwinfo",
		Method:  "assoclist",
		Params:  map[string]interface{}{"device": device},
		TTL:     TTLFast,
		Retries: 1,
		Decode:  state.DecodeStationList,
	}
}

// HostapdClientsKey is the parameterized key tracking clients known to one hostapd interface.
func HostapdClientsKey(iface string) DataKey {
	return DataKey("hostapd_clients:" + iface)
}

// HostapdClientsCapability builds the capability behind HostapdClientsKey(iface). iface is the
// full object name, for example "hostapd.wlan0".
func HostapdClientsCapability(iface string) Capability {
	return Capability{
		Key:     HostapdClientsKey(iface),
		Object:  iface,
		Method:  "get_clients",
		TTL:     TTLFast,
		Retries: 1,
		Decode:  state.DecodeHostapdClients,
	}
}

// FileReadKey is the parameterized key tracking the contents of one file on the device.
func FileReadKey(path string) DataKey {
	return DataKey("file_read:" + path)
}

// FileReadCapability builds the capability behind FileReadKey(path). Lease files change with
// every DHCP renewal, so the fast tier applies.
func FileReadCapability(path string) Capability {
	return Capability{
		Key:     FileReadKey(path),
		Object:  "file",
		Method:  "read",
		Params:  map[string]interface{}{"path": path},
		TTL:     TTLFast,
		Retries: 1,
		Decode:  state.DecodeFileContents,
	}
}
