package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wrtkit/router-command/pkg/coordinator"
	"github.com/wrtkit/router-command/pkg/registry"
)

const (
	// DefaultTimeout bounds the upstream work done for a single request.
	DefaultTimeout = 10 * time.Second

	// maxRequestBodyBytes caps request bodies. Key lists and action parameters are small.
	maxRequestBodyBytes = 4096

	// maxCombinedKeys caps the number of keys one combined request may name.
	maxCombinedKeys = 32
)

// Target is the coordinator-facing surface the proxy serves. *coordinator.Coordinator
// implements it.
type Target interface {
	Get(ctx context.Context, key registry.DataKey) (interface{}, error)
	GetWithMaxAge(ctx context.Context, key registry.DataKey, maxAge time.Duration) (interface{}, error)
	GetCombined(ctx context.Context, keys ...registry.DataKey) map[registry.DataKey]coordinator.Outcome
	Execute(ctx context.Context, action registry.Action) (json.RawMessage, error)
}

// Proxy exposes a REST API over a set of named router coordinators.
type Proxy struct {
	// Timeout bounds the upstream work done for a single request. Change it before serving.
	Timeout time.Duration

	verifier *TokenVerifier

	targetLock sync.RWMutex
	targets    map[string]Target

	routerLock sync.Map

	buildOnce sync.Once
	handler   http.Handler
}

// New creates a proxy that authenticates requests with verifier. Routers are attached with
// AddTarget.
func New(verifier *TokenVerifier) *Proxy {
	return &Proxy{
		Timeout:  DefaultTimeout,
		verifier: verifier,
		targets:  make(map[string]Target),
	}
}

// AddTarget makes target reachable under name, replacing any previous target with that name.
func (p *Proxy) AddTarget(name string, target Target) {
	p.targetLock.Lock()
	defer p.targetLock.Unlock()
	p.targets[name] = target
}

func (p *Proxy) target(name string) (Target, bool) {
	p.targetLock.RLock()
	defer p.targetLock.RUnlock()
	target, ok := p.targets[name]
	return target, ok
}

// Router returns the proxy's routes. Everything under /api/1 requires a bearer token scoped to
// the addressed router; /health does not.
func (p *Proxy) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", p.handleHealth)
	r.Route("/api/1/routers/{router}", func(r chi.Router) {
		r.Use(p.authenticate)
		r.Use(p.resolveTarget)
		r.Get("/data/{key}", p.handleData)
		r.Post("/data", p.handleCombined)
		r.Post("/actions/{action}", p.handleAction)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.buildOnce.Do(func() { p.handler = p.Router() })
	p.handler.ServeHTTP(w, req)
}

// lockRouter locks a router-specific mutex, blocking until the lock is acquired or ctx expires.
func (p *Proxy) lockRouter(ctx context.Context, router string) error {
	lock := make(chan bool, 1)
	for {
		if obj, loaded := p.routerLock.LoadOrStore(router, lock); loaded {
			select {
			case <-obj.(chan bool):
				// The goroutine that reads from the channel doesn't necessarily acquire the
				// mutex next. This allows the owner to delete the entry from the map, limiting
				// the map's size to the number of concurrent actions.
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			return nil
		}
	}
}

// unlockRouter releases a router-specific mutex.
func (p *Proxy) unlockRouter(router string) {
	obj, ok := p.routerLock.Load(router)
	if !ok {
		panic("called unlock without owning mutex")
	}
	p.routerLock.Delete(router) // Allow someone else to claim the mutex
	close(obj.(chan bool))      // Unblock goroutines
}

// resolveTarget checks the token's router scope and attaches the addressed coordinator to the
// request context. It runs after authenticate.
func (p *Proxy) resolveTarget(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "router")
		claims := claimsFromContext(req.Context())
		if claims == nil || !claims.Allows(name) {
			writeJSONError(w, http.StatusForbidden, "router_not_allowed",
				fmt.Errorf("token does not cover router %q", name))
			return
		}
		target, ok := p.target(name)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown_router",
				fmt.Errorf("no router named %q is configured", name))
			return
		}
		ctx := context.WithValue(req.Context(), targetKey, target)
		ctx = context.WithValue(ctx, routerNameKey, name)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func targetFromContext(ctx context.Context) Target {
	target, _ := ctx.Value(targetKey).(Target)
	return target
}

func routerNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(routerNameKey).(string)
	return name
}

func (p *Proxy) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSONResult(w, map[string]string{"status": "ok"})
}

// handleData serves one key. An optional max_age query parameter bounds the accepted cache age;
// keys containing path separators must be read through the combined endpoint instead.
func (p *Proxy) handleData(w http.ResponseWriter, req *http.Request) {
	target := targetFromContext(req.Context())
	key := registry.DataKey(chi.URLParam(req, "key"))

	maxAge := time.Duration(-1)
	if arg := req.URL.Query().Get("max_age"); arg != "" {
		parsed, err := time.ParseDuration(arg)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_max_age",
				fmt.Errorf("max_age %q is not a duration", arg))
			return
		}
		maxAge = parsed
	}

	ctx, cancel := context.WithTimeout(req.Context(), p.Timeout)
	defer cancel()

	var value interface{}
	var err error
	if maxAge >= 0 {
		value, err = target.GetWithMaxAge(ctx, key, maxAge)
	} else {
		value, err = target.Get(ctx, key)
	}
	if err != nil {
		code, label := errorStatus(err)
		writeJSONError(w, code, label, err)
		return
	}
	writeJSONResult(w, value)
}

type combinedRequest struct {
	Keys []registry.DataKey `json:"keys"`
}

// keyResult is one key's outcome within a combined reply.
type keyResult struct {
	Value      interface{} `json:"value,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrDetails string      `json:"error_description,omitempty"`
}

// handleCombined serves several keys in one request. The reply always has status 200 with a
// per-key result; a failing key reports its error in-band without hiding the others.
func (p *Proxy) handleCombined(w http.ResponseWriter, req *http.Request) {
	target := targetFromContext(req.Context())

	var request combinedRequest
	if err := readJSONBody(w, req, &request); err != nil {
		return
	}
	if len(request.Keys) == 0 {
		writeJSONError(w, http.StatusBadRequest, "missing_keys",
			fmt.Errorf("request names no keys"))
		return
	}
	if len(request.Keys) > maxCombinedKeys {
		writeJSONError(w, http.StatusBadRequest, "too_many_keys",
			fmt.Errorf("request names %d keys, limit is %d", len(request.Keys), maxCombinedKeys))
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), p.Timeout)
	defer cancel()

	outcomes := target.GetCombined(ctx, request.Keys...)
	results := make(map[registry.DataKey]keyResult, len(outcomes))
	for key, outcome := range outcomes {
		if outcome.Err != nil {
			_, label := errorStatus(outcome.Err)
			results[key] = keyResult{Error: label, ErrDetails: outcome.Err.Error()}
			continue
		}
		results[key] = keyResult{Value: outcome.Value}
	}
	writeJSONResult(w, results)
}

// readJSONBody decodes the request body into v, writing the error reply itself on failure.
func readJSONBody(w http.ResponseWriter, req *http.Request, v interface{}) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_request", err)
		return err
	}
	return nil
}
