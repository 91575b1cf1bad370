package action_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wrtkit/router-command/pkg/action"
	"github.com/wrtkit/router-command/pkg/registry"
)

var _ = Describe("Wireless Actions", func() {
	Describe("KickStation", func() {
		It("returns a del_client call with ban parameters", func() {
			kick := action.KickStation("hostapd.wlan0", "AA:BB:CC:DD:EE:FF", 30*time.Second)
			Expect(kick.Object).To(Equal("hostapd.wlan0"))
			Expect(kick.Method).To(Equal("del_client"))
			Expect(kick.Params["addr"]).To(Equal("AA:BB:CC:DD:EE:FF"))
			Expect(kick.Params["deauth"]).To(Equal(true))
			Expect(kick.Params["reason"]).To(Equal(5))
			Expect(kick.Params["ban_time"]).To(Equal(30000))
		})

		It("defaults the ban time", func() {
			kick := action.KickStation("hostapd.wlan0", "AA:BB:CC:DD:EE:FF", 0)
			Expect(kick.Params["ban_time"]).To(Equal(60000))
		})

		It("is never retried automatically", func() {
			kick := action.KickStation("hostapd.wlan0", "AA:BB:CC:DD:EE:FF", 0)
			Expect(kick.Idempotent).To(BeFalse())
		})

		It("invalidates the interface's station keys", func() {
			kick := action.KickStation("hostapd.wlan0", "AA:BB:CC:DD:EE:FF", 0)
			Expect(kick.Invalidates).To(ConsistOf(
				registry.HostapdClientsKey("hostapd.wlan0"),
				registry.StationListKey("wlan0"),
			))
		})

		It("skips the radio key for unconventional interface names", func() {
			kick := action.KickStation("wlan0-guest", "AA:BB:CC:DD:EE:FF", 0)
			Expect(kick.Invalidates).To(ConsistOf(registry.HostapdClientsKey("wlan0-guest")))
		})
	})
})
