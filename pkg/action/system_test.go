package action_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wrtkit/router-command/pkg/action"
	"github.com/wrtkit/router-command/pkg/registry"
)

var _ = Describe("System Actions", func() {
	Describe("Reboot", func() {
		It("returns a reboot call", func() {
			reboot := action.Reboot()
			Expect(reboot.Object).To(Equal("system"))
			Expect(reboot.Method).To(Equal("reboot"))
			Expect(reboot.Idempotent).To(BeFalse())
			Expect(reboot.Invalidates).To(BeEmpty())
		})
	})

	Describe("Service Actions", func() {
		It("returns a restart call", func() {
			restart := action.RestartService("network", registry.RadioDevices)
			Expect(restart.Object).To(Equal("rc"))
			Expect(restart.Method).To(Equal("init"))
			Expect(restart.Params["name"]).To(Equal("network"))
			Expect(restart.Params["action"]).To(Equal("restart"))
			Expect(restart.Idempotent).To(BeTrue())
			Expect(restart.Invalidates).To(ConsistOf(registry.RadioDevices))
		})

		It("returns a reload call", func() {
			reload := action.ReloadService("dnsmasq", registry.DHCPLeases)
			Expect(reload.Params["name"]).To(Equal("dnsmasq"))
			Expect(reload.Params["action"]).To(Equal("reload"))
			Expect(reload.Invalidates).To(ConsistOf(registry.DHCPLeases))
		})

		It("returns start and stop calls", func() {
			start := action.StartService("dropbear")
			Expect(start.Params["action"]).To(Equal("start"))
			Expect(start.Invalidates).To(BeEmpty())

			stop := action.StopService("dropbear")
			Expect(stop.Params["action"]).To(Equal("stop"))
			Expect(stop.Idempotent).To(BeTrue())
		})
	})
})
