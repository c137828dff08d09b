// Command devrun-authority runs the reference authority.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/zoobzio/devrun/authority"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "localhost:3000", "the address to listen on")
	dbVar := flag.String("db", "devrun.sqlite3", "the SQLite database runs are kept in")
	backupVar := flag.Duration("backup", 5*time.Second, "how often changed runs are saved")
	cookieVar := flag.String("cookie", "", "the only credential accepted, any non-empty one when unset")
	flag.Parse()

	slog.Info("Opening database", "path", *dbVar)
	store, err := authority.OpenSQLite(*dbVar)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := authority.Config{Store: store, BackupInterval: *backupVar}
	if *cookieVar != "" {
		want := *cookieVar
		cfg.Authenticate = func(credential string) bool { return credential == want }
	}
	a, err := authority.New(ctx, cfg)
	if err != nil {
		return err
	}

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Run(ctx)
	}()

	httpServer := &http.Server{Addr: *addrVar, Handler: authority.NewServer(a).Handler(), ReadHeaderTimeout: 5 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", *addrVar)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()
	_ = httpServer.Close()

	wg.Wait()
	return nil
}
