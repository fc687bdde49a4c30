package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/anava/connector/internal/applog"
	"github.com/anava/connector/internal/certstore"
	"github.com/anava/connector/internal/classifier"
	"github.com/anava/connector/internal/config"
	"github.com/anava/connector/internal/connector"
)

const app = "anava-connector"

var (
	a = kingpin.New(app, "localhost camera discovery and provisioning connector")

	listenAddr = a.Flag("listen", "address the connector listens on").
			Default(config.DefaultListenAddr).Envar("ANAVA_CONNECTOR_LISTEN").String()
	originsRaw = a.Flag("origins", "comma-separated list of allowed CORS origins").
			Default("").Envar("ANAVA_CONNECTOR_ORIGINS").String()
	minFirmware = a.Flag("min-firmware", "minimum supported firmware version").
			Default(classifier.DefaultMinFirmware).Envar("ANAVA_CONNECTOR_MIN_FIRMWARE").String()
)

func main() {
	a.HelpFlag.Short('h')
	if _, err := a.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing argument flags: %s\n", err)
		os.Exit(2)
	}

	log, err := applog.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %s\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting "+app, zap.String("listen", *listenAddr))

	lock, err := acquireLock()
	if err != nil {
		log.Error("failed to acquire single-instance lock", zap.Error(err))
		os.Exit(1)
	}
	defer lock.Unlock()

	certStorePath, err := config.DefaultCertStorePath()
	if err != nil {
		log.Error("failed to resolve certificate store path", zap.Error(err))
		os.Exit(1)
	}
	certs, err := certstore.Open(certStorePath, log)
	if err != nil {
		log.Error("failed to open certificate fingerprint store", zap.Error(err), zap.String("path", certStorePath))
		os.Exit(1)
	}

	cls, err := classifier.New(*minFirmware)
	if err != nil {
		log.Error("failed to initialize device classifier", zap.Error(err), zap.String("min_firmware", *minFirmware))
		os.Exit(2)
	}

	srv := connector.New(connector.Config{
		ListenAddr:     *listenAddr,
		AllowedOrigins: config.ParseOrigins(*originsRaw),
		Certs:          certs,
		Classifier:     cls,
		Log:            log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-signals
		log.Info("caught signal, shutting down", zap.String("signal", s.String()))
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		log.Error(app+" exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// acquireLock prevents two connector instances from racing for the same
// loopback port, mirroring the teacher's pkg/common.LockFile but using
// gofrs/flock for cross-platform advisory locking instead of a hand-rolled
// PID file.
func acquireLock() (*flock.Flock, error) {
	dir, err := applog.Dir()
	if err != nil {
		return nil, fmt.Errorf("resolve lock directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lock := flock.New(dir + "/connector.lock")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("try lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another instance of %s is already running", app)
	}
	return lock, nil
}
