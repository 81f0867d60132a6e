// Seabridge - vessel appliance telemetry bridge
//
// Holds a WebSocket session to the vessel monitoring appliance and
// republishes tank and battery readings as Signal K over MQTT, Valkey,
// Kafka and a REST API.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seabridge/api"
	"seabridge/config"
	"seabridge/engine"
	"seabridge/kafka"
	"seabridge/logging"
	"seabridge/metrics"
	"seabridge/mqtt"
	"seabridge/valkey"
)

// Version is set at build time via -ldflags
var Version = "dev"

// preprocessLogDebugFlag handles --log-debug without a value by injecting "all" as the default.
// This allows users to use `--log-debug` alone to enable all protocol logging.
func preprocessLogDebugFlag() {
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--log-debug" || arg == "-log-debug" {
			if i+1 >= len(args) || (len(args[i+1]) > 0 && args[i+1][0] == '-') {
				os.Args = append(os.Args[:i+2], append([]string{"all"}, os.Args[i+2:]...)...)
			}
			return
		}
		if len(arg) > 11 && (arg[:12] == "--log-debug=" || arg[:11] == "-log-debug=") {
			return
		}
	}
}

// Command line flags
var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	namespace   = flag.String("namespace", "", "Set namespace (saved to config)")
	applHost    = flag.String("host", "", "Appliance host (overrides config)")
	applPort    = flag.Int("port", 0, "Appliance port (overrides config)")
	httpPort    = flag.Int("p", 0, "HTTP listen port (overrides config)")
	noAPI       = flag.Bool("no-api", false, "Disable REST API (ephemeral)")
	logFile     = flag.String("log", "", "Path to log file (optional)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging to debug.log")
)

func main() {
	preprocessLogDebugFlag()

	flag.Parse()

	if *showVersion {
		fmt.Printf("seabridge %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Handle --namespace flag: overwrite config and save
	if *namespace != "" {
		if !config.IsValidNamespace(*namespace) {
			fmt.Fprintf(os.Stderr, "Error: invalid namespace '%s' (use alphanumeric, hyphen, underscore, dot)\n", *namespace)
			os.Exit(1)
		}
		cfg.Namespace = *namespace
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Namespace set to '%s' and saved to config\n", *namespace)
	}

	// In-memory overrides
	if *applHost != "" {
		cfg.Appliance.Host = *applHost
	}
	if *applPort != 0 {
		cfg.Appliance.Port = *applPort
	}
	if *httpPort != 0 {
		cfg.Web.Port = *httpPort
	}
	if *noAPI {
		cfg.Web.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	run(cfg)
}

// run starts the engine and the HTTP server and blocks until a signal.
func run(cfg *config.Config) {
	var fileLogger *logging.FileLogger
	if *logFile != "" {
		var err error
		fileLogger, err = logging.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open log file: %v\n", err)
		} else {
			logging.SetFileLogger(fileLogger)
		}
	}

	var debugLoggerFile *logging.DebugLogger
	if *logDebug != "" {
		var err error
		debugLoggerFile, err = logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		} else {
			filter := *logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			debugLoggerFile.SetFilter(filter)
			logging.SetGlobalDebugLogger(debugLoggerFile)
			mqtt.SetDebugLogger(debugLoggerFile)
			valkey.SetDebugLogger(debugLoggerFile)
			kafka.SetDebugLogger(debugLoggerFile)
			if filter == "" {
				logging.Printf("Debug logging enabled (all protocols) - writing to debug.log")
			} else {
				logging.Printf("Debug logging enabled (filter: %s) - writing to debug.log", filter)
			}
		}
	}

	eng := engine.New(engine.Config{
		AppConfig: cfg,
		LogFunc:   logging.Printf,
	})
	if err := eng.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting bridge: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Bridging appliance %s (namespace %s)\n", eng.GetClient().Endpoint().URL(), cfg.Namespace)

	var server *api.Server
	if cfg.Web.Enabled {
		reg := metrics.NewRegistry(eng.GetClient())
		s := api.NewServer(eng, &cfg.Web, metrics.Handler(reg))
		if err := s.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to start HTTP server on port %d: %v\n", cfg.Web.Port, err)
			fmt.Fprintf(os.Stderr, "Continuing without HTTP server.\n")
		} else {
			server = s
			fmt.Printf("REST API at %s\n", server.Address())
			fmt.Printf("  Metrics: %s/metrics\n", server.Address())
		}
	}

	fmt.Println("Running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Printf("\nReceived %v, shutting down...\n", sig)

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		if server != nil {
			server.Stop()
		}
		eng.Stop()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
	}

	if fileLogger != nil {
		fileLogger.Close()
	}
	if debugLoggerFile != nil {
		debugLoggerFile.Close()
	}

	fmt.Println("Stopped")
}
