// Package state defines typed views of the JSON payloads a device returns for monitored data
// keys, along with their decoders.
package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wrtkit/router-command/pkg/protocol"
)

// loadScale is the fixed-point factor ubus applies to load averages in system info.
const loadScale = 65536

// NormalizeMAC canonicalizes a MAC address to uppercase colon-separated form. Twelve bare hex
// digits, as reported by odhcpd, gain separators.
func NormalizeMAC(mac string) string {
	mac = strings.ToUpper(strings.TrimSpace(mac))
	if len(mac) == 12 && !strings.ContainsAny(mac, ":-") {
		parts := make([]string, 0, 6)
		for i := 0; i < 12; i += 2 {
			parts = append(parts, mac[i:i+2])
		}
		return strings.Join(parts, ":")
	}
	return strings.ReplaceAll(mac, "-", ":")
}

// Release identifies the firmware running on a device.
type Release struct {
	Distribution string `json:"distribution"`
	Version      string `json:"version"`
	Revision     string `json:"revision"`
	Target       string `json:"target"`
	Description  string `json:"description"`
}

// BoardInfo is the payload of system board: the device's hardware and firmware identity.
type BoardInfo struct {
	Kernel     string  `json:"kernel"`
	Hostname   string  `json:"hostname"`
	System     string  `json:"system"`
	Model      string  `json:"model"`
	BoardName  string  `json:"board_name"`
	RootfsType string  `json:"rootfs_type"`
	Release    Release `json:"release"`
}

func DecodeBoardInfo(raw json.RawMessage) (interface{}, error) {
	var board BoardInfo
	if err := json.Unmarshal(raw, &board); err != nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrBadResponse, err)
	}
	return &board, nil
}

// MemoryInfo reports byte counts from system info.
type MemoryInfo struct {
	Total     uint64 `json:"total"`
	Free      uint64 `json:"free"`
	Shared    uint64 `json:"shared"`
	Buffered  uint64 `json:"buffered"`
	Available uint64 `json:"available"`
	Cached    uint64 `json:"cached"`
}

// UsedPercent reports memory utilization, preferring the kernel's availability estimate.
func (m MemoryInfo) UsedPercent() float64 {
	if m.Total == 0 {
		return 0
	}
	free := m.Available
	if free == 0 {
		free = m.Free
	}
	return 100 * float64(m.Total-free) / float64(m.Total)
}

// SwapInfo reports swap byte counts from system info.
type SwapInfo struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

// SystemInfo is the payload of system info: uptime, load, and memory counters.
type SystemInfo struct {
	LocalTime int64      `json:"localtime"`
	Uptime    int64      `json:"uptime"`
	Load      [3]uint64  `json:"load"`
	Memory    MemoryInfo `json:"memory"`
	Swap      SwapInfo   `json:"swap"`
}

// LoadAverages converts the fixed-point load triple into the familiar 1/5/15 minute values.
func (s *SystemInfo) LoadAverages() [3]float64 {
	var loads [3]float64
	for i, raw := range s.Load {
		loads[i] = float64(raw) / loadScale
	}
	return loads
}

func DecodeSystemInfo(raw json.RawMessage) (interface{}, error) {
	var info SystemInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrBadResponse, err)
	}
	return &info, nil
}

// FileContents is the payload of file read.
type FileContents struct {
	Data string `json:"data"`
}

func DecodeFileContents(raw json.RawMessage) (interface{}, error) {
	var file FileContents
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrBadResponse, err)
	}
	return &file, nil
}
