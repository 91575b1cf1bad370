package action

import (
	"github.com/wrtkit/router-command/pkg/registry"
)

// Reboot restarts the device. No keys are invalidated: the device drops connections immediately,
// so there is nothing useful to refresh before it goes away.
func Reboot() registry.Action {
	return registry.Action{
		Name:       "reboot",
		Object:     "system",
		Method:     "reboot",
		Idempotent: false,
	}
}

// RestartService restarts an init service by name. The caller may attach data keys to refresh
// once the restart is accepted, for example the station keys after restarting the wireless stack.
func RestartService(name string, invalidates ...registry.DataKey) registry.Action {
	return serviceAction("restart_service", name, "restart", invalidates)
}

// ReloadService reloads an init service's configuration without a full restart.
func ReloadService(name string, invalidates ...registry.DataKey) registry.Action {
	return serviceAction("reload_service", name, "reload", invalidates)
}

// StartService starts an init service. Starting a running service is a no-op on the device.
func StartService(name string, invalidates ...registry.DataKey) registry.Action {
	return serviceAction("start_service", name, "start", invalidates)
}

// StopService stops an init service.
func StopService(name string, invalidates ...registry.DataKey) registry.Action {
	return serviceAction("stop_service", name, "stop", invalidates)
}

// serviceAction builds an rc init call. Service operations converge to the same end state when
// repeated, so they are marked idempotent and survive a single automatic retry after an
// ambiguous transport failure.
func serviceAction(name, service, operation string, invalidates []registry.DataKey) registry.Action {
	return registry.Action{
		Name:   name,
		Object: "rc",
		Method: "init",
		Params: map[string]interface{}{
			"name":   service,
			"action": operation,
		},
		Idempotent:  true,
		Invalidates: invalidates,
	}
}
