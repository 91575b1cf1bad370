package registry

// An Action names a state-changing call. Actions bypass the data cache entirely; Invalidates
// lists the DataKeys whose cached values the action renders unreliable once it succeeds.
type Action struct {
	Name   string
	Object string
	Method string
	Params map[string]interface{}

	// Idempotent marks actions that are safe to issue a second time when the transport cannot
	// tell whether the first attempt executed. Non-idempotent actions are never retried
	// automatically.
	Idempotent bool

	// Invalidates lists keys the executor drops and refreshes after the action succeeds.
	Invalidates []DataKey
}
