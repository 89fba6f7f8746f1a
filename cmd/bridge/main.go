// Command mr72-bridge reads distance frames from an MR72 radar and forwards
// them to a flight controller as MAVLink DISTANCE_SENSOR and
// OBSTACLE_DISTANCE messages.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/mr72-bridge/internal/api"
	"github.com/banshee-data/mr72-bridge/internal/config"
	"github.com/banshee-data/mr72-bridge/internal/link"
	"github.com/banshee-data/mr72-bridge/internal/monitoring"
	"github.com/banshee-data/mr72-bridge/internal/serialport"
	"github.com/banshee-data/mr72-bridge/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a JSON or YAML config file")
	inputDevice = flag.String("input", "", "MR72 serial device (default /dev/ttyS0)")
	inputBaud   = flag.Int("input-baud", 0, "MR72 baud rate (default 115200)")
	outputDest  = flag.String("output", "", "Flight controller serial device, or a host to send UDP to (default /dev/ttyACM1)")
	outputBaud  = flag.Int("output-baud", 0, "Flight controller baud rate when --output is a device (default 115200)")
	outputPort  = flag.Int("output-port", 0, "UDP port when --output is a host (default 14551)")
	rateHz      = flag.Float64("rate", 0, "Distance message rate in Hz (default 10)")
	verbose     = flag.Bool("verbose", false, "Log link state changes and HTTP requests")
	debugListen = flag.String("debug-listen", "", "Serve status and debug pages on this address, e.g. localhost:8080")
	logFile     = flag.String("log-file", "", "Also write logs to this rotating file")
	devMode     = flag.Bool("dev", false, "Simulate the radar instead of opening --input")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

const statsInterval = time.Minute

// applyFlags copies the flags visited by visit over cfg, so only flags given
// on the command line override the config file.
func applyFlags(cfg *config.Config, visit func(func(*flag.Flag))) {
	visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Input.Device = *inputDevice
		case "input-baud":
			cfg.Input.Serial.BaudRate = *inputBaud
		case "output":
			cfg.Output.Target = *outputDest
		case "output-baud":
			cfg.Output.Serial.BaudRate = *outputBaud
		case "output-port":
			cfg.Output.UDPPort = *outputPort
		case "rate":
			cfg.Output.RateHz = *rateHz
		case "verbose":
			cfg.Debug.Verbose = *verbose
		case "debug-listen":
			cfg.Debug.Listen = *debugListen
		case "log-file":
			cfg.Debug.LogFile = *logFile
		}
	})
}

func loadConfig(path string, visit func(func(*flag.Flag))) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	applyFlags(cfg, visit)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newBridge builds the bridge described by cfg. With dev set the radar is
// simulated and cfg.Input.Device is never opened.
func newBridge(cfg *config.Config, dev bool) (*link.Bridge, error) {
	in := link.SerialDialer{
		Path:    cfg.Input.Device,
		Options: cfg.Input.Serial,
		Factory: serialport.NewRealFactory(time.Duration(cfg.Input.ReadTimeout)),
	}
	if dev {
		in.Path = "simulated"
		in.Factory = serialport.SimulatorFactory{}
	}

	var out link.Dialer
	switch cfg.Output.Kind() {
	case config.OutputUDP:
		out = link.UDPDialer{Host: cfg.Output.Target, Port: cfg.Output.UDPPort}
	default:
		out = link.SerialDialer{
			Path:    cfg.Output.Target,
			Options: cfg.Output.Serial,
			Factory: serialport.NewRealFactory(0),
		}
	}

	return link.New(link.Config{
		Input:             in,
		Output:            out,
		OutputInterval:    cfg.Output.Interval(),
		HeartbeatInterval: cfg.Output.HeartbeatInterval(),
		RetryDelay:        time.Duration(cfg.Output.RetryDelay),
		StallTimeout:      time.Duration(cfg.Input.StallTimeout),
		SysID:             cfg.MAVLink.SystemID,
		CompID:            cfg.MAVLink.ComponentID,
		Encoder:           cfg.Encoder,
	})
}

func logStats(b *link.Bridge) {
	st := b.Stats()
	monitoring.Logf("input %s (%.1f Hz), output %s, frames %d, checksum errors %d, messages sent %d, write errors %d",
		b.Input().State(), st.InputFrames.RateHz, b.Output().State(),
		st.Decoder.FramesDecoded, st.Decoder.ChecksumErrors, st.MessagesSent, st.WriteErrors)
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	if *showVersion {
		fmt.Printf("mr72-bridge %s\n", version.String())
		return 0
	}

	cfg, err := loadConfig(*configFile, flag.Visit)
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		return 2
	}

	monitoring.SetVerbose(cfg.Debug.Verbose)
	if cfg.Debug.LogFile != "" {
		lf := monitoring.OpenLogFile(monitoring.LogFileOptions{Path: cfg.Debug.LogFile})
		defer lf.Close()
	}

	bridge, err := newBridge(cfg, *devMode)
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		return 2
	}
	if *devMode {
		log.Printf("dev mode: simulating the radar")
	}
	log.Printf("mr72-bridge %s: %s -> %s at %g Hz", version.Version,
		bridge.Input().Status().Target, bridge.Output().Status().Target, cfg.Output.RateHz)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	var runErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Run(ctx); err != nil {
			runErr = err
			log.Printf("bridge stopped: %v", err)
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logStats(bridge)
			}
		}
	}()

	if cfg.Debug.Listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			apiServer := api.NewServer(bridge)
			mux := apiServer.ServeMux()
			apiServer.AttachAdminRoutes(mux)

			server := &http.Server{
				Addr:    cfg.Debug.Listen,
				Handler: api.LoggingMiddleware(mux),
			}

			go func() {
				log.Printf("status server listening on %s (run %s)", cfg.Debug.Listen, apiServer.RunID())
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Printf("status server error: %v", err)
				}
			}()

			<-ctx.Done()
			log.Printf("shutting down status server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("status server forced shutdown: %v", err)
				server.Close()
			}
		}()
	}

	wg.Wait()
	logStats(bridge)
	log.Printf("graceful shutdown complete")
	if runErr != nil {
		return 1
	}
	return 0
}
