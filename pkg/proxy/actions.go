package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/action"
	"github.com/wrtkit/router-command/pkg/registry"
)

// actionRequest carries the parameters an action may need. Fields an action does not use are
// ignored.
type actionRequest struct {
	MAC       string `json:"mac,omitempty"`
	Interface string `json:"interface,omitempty"`
	BanTime   string `json:"ban_time,omitempty"`
	Service   string `json:"service,omitempty"`
}

// actionResult reports an accepted action. Output carries the device's raw reply when it sent
// one.
type actionResult struct {
	Result bool            `json:"result"`
	Output json.RawMessage `json:"output,omitempty"`
}

// buildAction translates an action name and its request parameters into the operation to
// execute.
func buildAction(name string, req actionRequest) (registry.Action, error) {
	switch name {
	case "kick":
		if req.MAC == "" || req.Interface == "" {
			return registry.Action{}, fmt.Errorf("kick requires mac and interface")
		}
		var banTime time.Duration
		if req.BanTime != "" {
			parsed, err := time.ParseDuration(req.BanTime)
			if err != nil || parsed < 0 {
				return registry.Action{}, fmt.Errorf("ban_time %q is not a duration", req.BanTime)
			}
			banTime = parsed
		}
		return action.KickStation(req.Interface, req.MAC, banTime), nil
	case "reboot":
		return action.Reboot(), nil
	case "restart_service":
		return serviceAction(name, req, action.RestartService)
	case "reload_service":
		return serviceAction(name, req, action.ReloadService)
	case "start_service":
		return serviceAction(name, req, action.StartService)
	case "stop_service":
		return serviceAction(name, req, action.StopService)
	default:
		return registry.Action{}, fmt.Errorf("unknown action %q", name)
	}
}

func serviceAction(name string, req actionRequest, build func(string, ...registry.DataKey) registry.Action) (registry.Action, error) {
	if req.Service == "" {
		return registry.Action{}, fmt.Errorf("%s requires a service name", name)
	}
	return build(req.Service), nil
}

// handleAction executes a control operation against the addressed router. Actions on the same
// router are serialized; different routers proceed independently.
func (p *Proxy) handleAction(w http.ResponseWriter, req *http.Request) {
	target := targetFromContext(req.Context())
	router := routerNameFromContext(req.Context())

	var request actionRequest
	if req.ContentLength != 0 {
		if err := readJSONBody(w, req, &request); err != nil {
			return
		}
	}

	act, err := buildAction(chi.URLParam(req, "action"), request)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_action", err)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), p.Timeout)
	defer cancel()

	if err := p.lockRouter(ctx, router); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "router_busy", err)
		return
	}
	defer p.unlockRouter(router)

	log.Info("Executing %s on %s", act.Name, router)
	output, err := target.Execute(ctx, act)
	if err != nil {
		code, label := errorStatus(err)
		writeJSONError(w, code, label, err)
		return
	}
	writeJSONResult(w, &actionResult{Result: true, Output: output})
}
