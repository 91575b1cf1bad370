package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/connector/inet"
	"github.com/wrtkit/router-command/pkg/coordinator"
	"github.com/wrtkit/router-command/pkg/proxy"
	"github.com/wrtkit/router-command/pkg/registry"
	"github.com/wrtkit/router-command/pkg/snapshot"
	"github.com/wrtkit/router-command/pkg/ubus"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy server",
	Long: `Starts the REST gateway with the routers named in the configuration file.
The server drains in-flight requests on SIGINT or SIGTERM before exiting, and
persists cached router data to the snapshot store so a restart begins warm.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// routerInstance is one device the proxy serves: its ubus client and the coordinator caching
// its data.
type routerInstance struct {
	name   string
	client *ubus.Client
	coord  *coordinator.Coordinator
}

func buildRouter(name string, config RouterConfig) (*routerInstance, error) {
	password, err := config.password()
	if err != nil {
		return nil, fmt.Errorf("router %q: %s", name, err)
	}

	httpClient := &http.Client{Timeout: inet.DefaultTimeout}
	if config.Timeout > 0 {
		httpClient.Timeout = time.Duration(config.Timeout)
	}
	if config.InsecureTLS {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	conn := inet.NewConnectionWithClient(config.Host, httpClient)
	client := ubus.NewClient(conn, ubus.Config{
		Username:      config.username(),
		Password:      password,
		MaxBatchCalls: config.MaxBatch,
	})

	ttls := make(map[registry.DataKey]time.Duration, len(config.TTL))
	for key, ttl := range config.TTL {
		ttls[registry.DataKey(key)] = time.Duration(ttl)
	}
	coord := coordinator.New(client, registry.Builtin(), coordinator.Config{
		Window:       time.Duration(config.Window),
		StaleFactor:  config.StaleFactor,
		TTLOverrides: ttls,
	})
	return &routerInstance{name: name, client: client, coord: coord}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	secret, err := config.Auth.secret()
	if err != nil {
		return err
	}
	verifier := proxy.NewTokenVerifier(secret, config.Auth.Issuer)

	p := proxy.New(verifier)
	p.Timeout = time.Duration(config.Timeout)

	var store *snapshot.Store
	if config.Snapshots != "" {
		store, err = snapshot.Open(config.Snapshots)
		if err != nil {
			return fmt.Errorf("could not open snapshot store: %s", err)
		}
		defer store.Close()
	}

	var routers []*routerInstance
	for name, routerConfig := range config.Routers {
		router, err := buildRouter(name, routerConfig)
		if err != nil {
			return err
		}
		if store != nil {
			if err := store.RestoreCoordinator(router.coord); err != nil {
				log.Warning("Could not restore snapshot for %s: %s", name, err)
			}
		}
		p.AddTarget(name, router.coord)
		routers = append(routers, router)
		log.Info("Serving router %s at %s", name, router.client.Endpoint())
	}
	defer func() {
		for _, router := range routers {
			router.client.Close()
		}
	}()

	server := &http.Server{Addr: config.Listen, Handler: p}
	errCh := make(chan error, 1)
	go func() {
		if config.TLS.Cert != "" {
			log.Info("Listening on https://%s", config.Listen)
			errCh <- server.ListenAndServeTLS(config.TLS.Cert, config.TLS.Key)
		} else {
			log.Info("Listening on http://%s", config.Listen)
			errCh <- server.ListenAndServe()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Shutdown did not complete cleanly: %s", err)
	}

	if store != nil {
		for _, router := range routers {
			if err := store.SaveCoordinator(router.coord); err != nil {
				log.Error("Could not snapshot %s: %s", router.name, err)
			}
		}
	}
	return nil
}
