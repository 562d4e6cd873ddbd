package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"

	"fleetgate/apiclient"
	"fleetgate/authstate"
	"fleetgate/delivery"
)

// App holds the gateway's dependencies and state: the configuration, the
// upstream API client, the durable session store, and one coordinator per
// live browser session.
type App struct {
	Config Config
	Router http.Handler

	store    authstate.Store
	cache    *authstate.QueryCache
	upstream *apiclient.Client
	verifier *TokenVerifier
	routes   authstate.Config

	mu       sync.Mutex
	sessions map[string]*browserSession
}

// browserSession bundles the per-session state machine with its guards.
type browserSession struct {
	coord *authstate.Coordinator
	guard *authstate.Guard
	roles *authstate.RoleGate
}

// New creates an App from the environment.
func New() (*App, error) {
	return NewWithConfig(LoadConfig())
}

// NewWithConfig creates an App with an explicit configuration, which is what
// tests use.
func NewWithConfig(cfg Config) (*App, error) {
	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		store:    store,
		cache:    authstate.NewQueryCache(cfg.CacheTTL),
		upstream: apiclient.New(cfg.APIBaseURL),
		routes:   authstate.DefaultConfig(),
		sessions: make(map[string]*browserSession),
	}

	// Token verification is optional: without a JWKS endpoint the gateway
	// still works, it just reads claims without checking the signature.
	if cfg.JWKSURL != "" {
		verifier, err := NewTokenVerifier(context.Background(), cfg.JWKSURL)
		if err != nil {
			log.Printf("token verifier disabled: %v", err)
		} else {
			a.verifier = verifier
		}
	}

	a.Router = delivery.NewRouter(a)
	return a, nil
}

// Start runs the HTTP server on the specified address.
func (a *App) Start(addr string) {
	fmt.Printf("Gateway listening on %s, upstream %s...\n", addr, a.Config.APIBaseURL)
	log.Fatal(http.ListenAndServe(addr, a.Router))
}

func buildStore(cfg Config) (authstate.Store, error) {
	switch {
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return authstate.NewRedisStore(client, "fleetgate:", cfg.SessionTTL), nil
	case cfg.StateDir != "":
		store, err := authstate.NewFileStore(cfg.StateDir, []byte(cfg.SealKey))
		if err != nil {
			return nil, fmt.Errorf("file session store: %w", err)
		}
		return store, nil
	default:
		return authstate.NewMemoryStore(), nil
	}
}

// Upstream returns the normalized client for the management API.
func (a *App) Upstream() *apiclient.Client { return a.upstream }

// Cache returns the proxied-response cache.
func (a *App) Cache() *authstate.QueryCache { return a.cache }

// session returns the coordinator bundle for sid, creating it on first use.
func (a *App) session(sid string) *browserSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	if bs, ok := a.sessions[sid]; ok {
		return bs
	}
	coord := authstate.NewCoordinator(sid, a.store, upstreamIdentity{api: a.upstream}, a.cache, a.routes)
	bs := &browserSession{
		coord: coord,
		guard: authstate.NewGuard(coord),
		roles: authstate.NewRoleGate(coord, sessionProfile{api: a.upstream, store: a.store, sid: sid}),
	}
	a.sessions[sid] = bs
	return bs
}

// upstreamIdentity adapts the API client to the coordinator's identity
// contract.
type upstreamIdentity struct {
	api *apiclient.Client
}

func (u upstreamIdentity) CheckIdentity(ctx context.Context, accessToken string) (string, error) {
	payload, err := u.api.Get(ctx, "/api/profile", accessToken)
	if err != nil {
		return "", err
	}
	if m, ok := payload.(map[string]any); ok {
		if email, ok := m["email"].(string); ok {
			return email, nil
		}
	}
	return "", nil
}

func (u upstreamIdentity) NotifyLogout(ctx context.Context, accessToken string) error {
	_, err := u.api.Post(ctx, "/api/utenti/logout", accessToken, nil)
	return err
}

// sessionProfile performs the role gate's lazy profile fetch with the
// session's current bearer token.
type sessionProfile struct {
	api   *apiclient.Client
	store authstate.Store
	sid   string
}

func (p sessionProfile) FetchProfile(ctx context.Context) (any, error) {
	rec, err := p.store.Load(ctx, p.sid)
	if err != nil {
		return nil, err
	}
	return p.api.Get(ctx, "/api/profile", rec.AccessToken)
}
