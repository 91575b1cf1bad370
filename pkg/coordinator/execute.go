package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/protocol"
	"github.com/wrtkit/router-command/pkg/registry"
	"github.com/wrtkit/router-command/pkg/ubus"
)

// Execute performs a side-effecting action against the device, bypassing the read cache. On
// success every data key the action names is invalidated and, where a capability is registered,
// refreshed before Execute returns, so that a read issued afterwards observes the action's
// effect instead of up to a full TTL of pre-action data.
//
// An idempotent action is retried once after a transient failure. Actions that could compound
// their effect when repeated are never retried automatically; their failure surfaces to the
// caller, who decides.
func (c *Coordinator) Execute(ctx context.Context, action registry.Action) (json.RawMessage, error) {
	call := ubus.Call{Object: action.Object, Method: action.Method, Params: action.Params}
	raw, err := c.client.Call(ctx, call)
	if err != nil && action.Idempotent && protocol.Temporary(err) {
		log.Debug("Retrying %s after error: %s", action.Name, err)
		select {
		case <-ctx.Done():
			return nil, &protocol.CommandError{Err: ctx.Err(), PossibleSuccess: protocol.MayHaveSucceeded(err), PossibleTemporary: true}
		case <-time.After(c.client.RetryInterval()):
		}
		raw, err = c.client.Call(ctx, call)
	}
	if err != nil {
		log.Warning("Action %s failed: %s", action.Name, err)
		return nil, err
	}
	if len(action.Invalidates) > 0 {
		c.Invalidate(action.Invalidates...)
		if err := c.Refresh(ctx, action.Invalidates...); err != nil {
			// The action itself succeeded. The affected entries keep their recorded fetch
			// errors and later reads follow the staleness policy.
			log.Warning("Refreshing data after %s: %s", action.Name, err)
		}
	}
	return raw, nil
}
