package state

import (
	"encoding/json"
	"fmt"

	"github.com/wrtkit/router-command/pkg/protocol"
)

// ModemItem is one entry of a modem's information list. Values arrive as display strings.
type ModemItem struct {
	ClassOrigin string `json:"class_origin"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Type        string `json:"type"`
}

// ModemSection groups the items reported for one modem.
type ModemSection struct {
	ModemInfo []ModemItem `json:"modem_info"`
}

// ModemInfo is the payload of modem_ctrl info on devices running the qmodem package.
type ModemInfo struct {
	Info []ModemSection `json:"info"`
}

// Lookup returns the first value whose class and key match. Class may be empty to match any.
func (m *ModemInfo) Lookup(class, key string) (string, bool) {
	for _, section := range m.Info {
		for _, item := range section.ModemInfo {
			if item.Key == key && (class == "" || item.ClassOrigin == class) {
				return item.Value, true
			}
		}
	}
	return "", false
}

// Present reports whether the payload carried any modem data.
func (m *ModemInfo) Present() bool {
	return len(m.Info) > 0
}

func DecodeModemInfo(raw json.RawMessage) (interface{}, error) {
	var modem ModemInfo
	if err := json.Unmarshal(raw, &modem); err != nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrBadResponse, err)
	}
	return &modem, nil
}
