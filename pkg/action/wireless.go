// Package action provides constructors for the control operations a device accepts. Each
// constructor returns a registry.Action carrying the wire call, its idempotence, and the data
// keys whose cached values it invalidates.
package action

import (
	"strings"
	"time"

	"github.com/wrtkit/router-command/pkg/registry"
)

// DefaultBanTime is how long a kicked station stays banned from re-associating.
const DefaultBanTime = 60 * time.Second

// deauthReasonBusy is the 802.11 reason code sent with a forced deauthentication.
const deauthReasonBusy = 5

// KickStation forces a station off the given hostapd interface and bans it for banTime.
// iface is the full object name, for example "hostapd.wlan0"; a non-positive banTime selects
// DefaultBanTime.
//
// Kicking is not idempotent: re-issuing the call extends the ban window and can race the
// station's reconnect, so the executor never retries it automatically.
func KickStation(iface, mac string, banTime time.Duration) registry.Action {
	if banTime <= 0 {
		banTime = DefaultBanTime
	}
	invalidates := []registry.DataKey{registry.HostapdClientsKey(iface)}
	if radio := strings.TrimPrefix(iface, "hostapd."); radio != iface {
		invalidates = append(invalidates, registry.StationListKey(radio))
	}
	return registry.Action{
		Name:   "kick_station",
		Object: iface,
		Method: "del_client",
		Params: map[string]interface{}{
			"addr":     mac,
			"reason":   deauthReasonBusy,
			"deauth":   true,
			"ban_time": int(banTime / time.Millisecond),
		},
		Idempotent:  false,
		Invalidates: invalidates,
	}
}
