// Command lora-gateway relays LoRa packets from the UART of a gateway board
// to the collection server.
//
// Settings come from flags, LORAGW_* environment variables or a config file;
// run with --help for the flag list. Example:
//
//	lora-gateway --device /dev/ttyS0 --server-url http://localhost:5000/api/sensor-data
//
// The process runs until SIGINT, SIGTERM or SIGHUP, then closes the serial
// port and logs the final statistics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/wingyeung0317/IBSP/forward"
	"github.com/wingyeung0317/IBSP/gateway"
	"github.com/wingyeung0317/IBSP/internal/config"
	"github.com/wingyeung0317/IBSP/link"
	"github.com/wingyeung0317/IBSP/logger"
)

const probeTimeout = 3 * time.Second

var log logger.Logger

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	settings, err := config.Load("lora-gateway", args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "lora-gateway:", err)
		return 2
	}

	log = logger.NewSlogWithOptions(settings.LogLevel(), logger.SlogOptions{
		Output:  os.Stdout,
		Console: settings.Log.Console || os.Getenv("ENV") == "development",
	})
	logger.SetLogger(log)

	if settings.File != "" {
		log.Info("using config file", "path", settings.File)
	}

	sink, err := forward.NewHTTPSink(settings.Server.URL, forward.WithHealthURL(settings.Server.HealthURL))
	if err != nil {
		log.Error("invalid server url", "url", settings.Server.URL, "error", err)
		return 2
	}

	cfg, err := gateway.NewConfig(settings.GatewayOptions(log)...)
	if err != nil {
		log.Error("invalid gateway configuration", "error", err)
		return 2
	}

	gw, err := gateway.New(cfg, link.SerialOpener(settings.LinkConfig()), sink)
	if err != nil {
		log.Error("failed to create gateway", "error", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe(ctx, sink)

	exitSig := make(chan os.Signal, 1)
	signal.Notify(exitSig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSig
		log.Info("exit signal received", "signal", sig.String())
		cancel()
	}()

	log.Info("relaying",
		"device", settings.Serial.Device,
		"baud", settings.Serial.Baud,
		"server", sink.URL(),
	)

	if err := gw.Run(ctx); err != nil {
		log.Error("gateway stopped with error", "error", err)
		return 1
	}

	log.Info("shutdown finished")

	return 0
}

// probe checks once that the server answers its health endpoint. The
// outcome is only logged; packets are relayed either way.
func probe(ctx context.Context, sink *forward.HTTPSink) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status, err := sink.Probe(ctx)
	switch {
	case err == nil:
		log.Info("server is reachable", "url", sink.HealthURL(), "status", status)
	case errors.Is(err, forward.ErrTransportStatus):
		log.Warn("server health check failed", "url", sink.HealthURL(), "status", status)
	default:
		log.Warn("cannot reach server", "url", sink.HealthURL(), "error", err)
	}
}
