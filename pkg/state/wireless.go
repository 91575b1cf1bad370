package state

import (
	"encoding/json"
	"fmt"

	"github.com/wrtkit/router-command/pkg/protocol"
)

// RadioList is the payload of iwinfo devices: the wireless interfaces present on the device.
type RadioList struct {
	Devices []string `json:"devices"`
}

func DecodeRadioList(raw json.RawMessage) (interface{}, error) {
	var radios RadioList
	if err := json.Unmarshal(raw, &radios); err != nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrBadResponse, err)
	}
	return &radios, nil
}

// LinkRate describes one direction of a station's link, from iwinfo assoclist.
type LinkRate struct {
	Rate    int64 `json:"rate"` // kbit/s
	MCS     int   `json:"mcs"`
	MHz     int   `json:"mhz"`
	Packets int64 `json:"packets"`
	Bytes   int64 `json:"bytes"`
	HT      bool  `json:"ht"`
	VHT     bool  `json:"vht"`
	HE      bool  `json:"he"`
	NSS     int   `json:"nss"`
	ShortGI bool  `json:"short_gi"`
	Failed  int64 `json:"failed"`
	Retries int64 `json:"retries"`
}

// Station is one entry of iwinfo assoclist.
type Station struct {
	MAC           string   `json:"mac"`
	Signal        int      `json:"signal"`     // dBm
	SignalAvg     int      `json:"signal_avg"` // dBm
	Noise         int      `json:"noise"`      // dBm
	Inactive      int64    `json:"inactive"`   // ms since last activity
	ConnectedTime int64    `json:"connected_time"`
	RX            LinkRate `json:"rx"`
	TX            LinkRate `json:"tx"`
}

// StationList is the payload of iwinfo assoclist for one wireless interface.
type StationList struct {
	Results []Station `json:"results"`
}

// MACs returns the normalized addresses of all associated stations.
func (l *StationList) MACs() []string {
	macs := make([]string, 0, len(l.Results))
	for _, station := range l.Results {
		macs = append(macs, NormalizeMAC(station.MAC))
	}
	return macs
}

func DecodeStationList(raw json.RawMessage) (interface{}, error) {
	var stations StationList
	if err := json.Unmarshal(raw, &stations); err != nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrBadResponse, err)
	}
	return &stations, nil
}

// HostapdClient is one entry of a hostapd interface's get_clients reply.
type HostapdClient struct {
	Auth       bool `json:"auth"`
	Assoc      bool `json:"assoc"`
	Authorized bool `json:"authorized"`
	Preauth    bool `json:"preauth"`
	WDS        bool `json:"wds"`
	MFP        bool `json:"mfp"`
}

// HostapdClients is the payload of hostapd.<iface> get_clients.
type HostapdClients struct {
	Freq    int                      `json:"freq"`
	Clients map[string]HostapdClient `json:"clients"`
}

// MACs returns the normalized addresses of all authorized clients.
func (h *HostapdClients) MACs() []string {
	macs := make([]string, 0, len(h.Clients))
	for mac := range h.Clients {
		macs = append(macs, NormalizeMAC(mac))
	}
	return macs
}

func DecodeHostapdClients(raw json.RawMessage) (interface{}, error) {
	var clients HostapdClients
	if err := json.Unmarshal(raw, &clients); err != nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrBadResponse, err)
	}
	return &clients, nil
}
