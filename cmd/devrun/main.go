// Command devrun streams a file being edited on disk to a devrun authority.
//
// A run starts at once when -problem is given, otherwise when the bridge
// receives GET /start-run/{problemId}. SIGINT or SIGTERM stops and submits
// the active run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/zoobzio/capitan"

	"github.com/zoobzio/devrun"
	"github.com/zoobzio/devrun/bridge"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	fileVar := flag.String("file", "", "the file to stream")
	problemVar := flag.String("problem", "", "start a run for this problem at once")
	modeVar := flag.String("mode", devrun.ModeAnyPercent, "the run mode: any% or 100%")
	originVar := flag.String("origin", string(devrun.OriginLocal), "the authority to use: local or remote")
	localVar := flag.String("local", "ws://localhost:3000/ws", "the local authority endpoint")
	remoteVar := flag.String("remote", "", "the remote authority endpoint")
	httpVar := flag.String("http", "", "use plain requests against this base URL instead of a stream")
	cookieVar := flag.String("cookie", os.Getenv("DEVRUN_COOKIE"), "the session credential")
	bridgeVar := flag.String("bridge", bridge.DefaultAddr, "the bridge address, empty to disable")
	allowVar := flag.String("allow-origin", "", "a remote origin allowed to call the bridge")
	debugVar := flag.Bool("debug", false, "log captured moves")
	flag.Parse()

	if *fileVar == "" {
		return errors.New("-file is required")
	}

	level := slog.LevelInfo
	if *debugVar {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	listener := capitan.Observe(devrun.LogEvents(logger))
	defer listener.Close()

	credentials := devrun.NewCredentialStore()
	if *cookieVar != "" {
		credentials.Set(*cookieVar)
	}

	var client devrun.Client
	if *httpVar != "" {
		client = devrun.NewHTTPClient(devrun.HTTPConfig{BaseURL: *httpVar, Credentials: credentials})
	} else {
		origins := map[devrun.Origin]string{devrun.OriginLocal: *localVar}
		if *remoteVar != "" {
			origins[devrun.OriginRemote] = *remoteVar
		}
		origin := devrun.Origin(*originVar)
		if _, ok := origins[origin]; !ok {
			return fmt.Errorf("no endpoint configured for origin %q", origin)
		}
		transport := devrun.NewTransport(devrun.TransportConfig{
			Origins:     origins,
			Origin:      origin,
			Credentials: credentials,
		})
		defer transport.Close()
		client = devrun.NewRPCClient(transport)
	}

	controller := devrun.NewController(client, newFileEditor(*fileVar), devrun.ControllerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := func(ctx context.Context, problem string) {
		if controller.Active() {
			if err := controller.Stop(ctx); err != nil {
				slog.Error("failed to stop run", "err", err)
			}
		}
		run, err := controller.Start(ctx, problem, *modeVar)
		if err != nil {
			slog.Error("failed to start run", "problem", problem, "err", err)
			return
		}
		slog.Info("run started", "run", run.ID, "problem", run.Problem, "mode", run.Mode)
	}

	wg := new(sync.WaitGroup)

	var b *bridge.Bridge
	if *bridgeVar != "" {
		cfg := bridge.Config{
			Addr:        *bridgeVar,
			OnStart:     start,
			Credentials: credentials,
			Logger:      logger,
		}
		if *allowVar != "" {
			cfg.AllowedOrigins = []string{*allowVar}
		}
		b = bridge.New(cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.ListenAndServe(); err != nil {
				slog.Error("bridge listen failed", "err", err)
			}
		}()
	}

	if *problemVar != "" {
		start(ctx, *problemVar)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if status := controller.Status(); status != "" {
					slog.Debug("run time", "elapsed", status)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	if b != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = b.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	wg.Wait()

	if controller.Active() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), devrun.DefaultRequestTimeout)
		defer stopCancel()
		if err := controller.Stop(stopCtx); err != nil {
			return err
		}
		slog.Info("run submitted")
	}
	return nil
}
