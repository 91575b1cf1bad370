package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wrtkit/router-command/pkg/protocol"
)

// DHCPLease is one odhcpd lease from dhcp ipv4leases. Depending on the odhcpd version the
// address is reported as "ip" or "address".
type DHCPLease struct {
	MAC      string `json:"mac"`
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
	Address  string `json:"address"`
	Valid    int64  `json:"valid"`
}

// IPAddress returns the lease's address regardless of which field the device populated.
func (l DHCPLease) IPAddress() string {
	if l.IP != "" {
		return l.IP
	}
	return l.Address
}

// LeaseTable is the payload of dhcp ipv4leases: leases grouped by network device.
type LeaseTable struct {
	Device map[string]struct {
		Leases []DHCPLease `json:"leases"`
	} `json:"device"`
}

// ByMAC flattens the table into normalized MAC → lease.
func (t *LeaseTable) ByMAC() map[string]DHCPLease {
	byMAC := make(map[string]DHCPLease)
	for _, device := range t.Device {
		for _, lease := range device.Leases {
			byMAC[NormalizeMAC(lease.MAC)] = lease
		}
	}
	return byMAC
}

func DecodeLeaseTable(raw json.RawMessage) (interface{}, error) {
	var table LeaseTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrBadResponse, err)
	}
	return &table, nil
}

// UCIDHCPConfig is the payload of uci get for config dhcp, type dnsmasq.
type UCIDHCPConfig struct {
	Values map[string]struct {
		Type      string `json:".type"`
		Name      string `json:".name"`
		LeaseFile string `json:"leasefile"`
	} `json:"values"`
}

// LeaseFile returns the configured dnsmasq lease file path, or the empty string when the
// configuration does not name one.
func (c *UCIDHCPConfig) LeaseFile() string {
	for _, section := range c.Values {
		if section.LeaseFile != "" {
			return section.LeaseFile
		}
	}
	return ""
}

func DecodeUCIDHCPConfig(raw json.RawMessage) (interface{}, error) {
	var config UCIDHCPConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrBadResponse, err)
	}
	return &config, nil
}

// HostRecord names a DHCP client, as learned from the DHCP server.
type HostRecord struct {
	Hostname string
	IP       string
}

// ParseLeaseFile extracts normalized MAC → host records from dnsmasq lease file contents. Each
// line reads "expiry mac ip hostname clientid"; short lines are skipped.
func ParseLeaseFile(data string) map[string]HostRecord {
	records := make(map[string]HostRecord)
	for _, line := range strings.Split(data, "\n") {
		fields := strings.Split(line, " ")
		if len(fields) < 4 {
			continue
		}
		records[NormalizeMAC(fields[1])] = HostRecord{Hostname: fields[3], IP: fields[2]}
	}
	return records
}
