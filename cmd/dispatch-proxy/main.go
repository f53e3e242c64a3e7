// Command dispatch-proxy is a local SOCKS proxy that spreads outbound
// TCP connections across multiple weighted source addresses in a
// round-robin fashion.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"dispatch-proxy/internal/addrspec"
	"dispatch-proxy/internal/config"
	"dispatch-proxy/internal/logging"
	"dispatch-proxy/internal/netlist"
	"dispatch-proxy/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		runList()
	case "start":
		runStart(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "dispatch-proxy: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `A proxy that balances traffic between multiple internet connections

Usage:
  dispatch-proxy list
  dispatch-proxy start [--ip IP] [--port PORT] [--config FILE] <address>[/<weight>] ...

Commands:
  list   Lists all available network interfaces and their bindable addresses
  start  Starts the SOCKS proxy server`)
}

func runList() {
	entries, err := netlist.Collect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatch-proxy: %v\n", err)
		os.Exit(1)
	}
	netlist.Print(entries)
}

func runStart(args []string) {
	fs := pflag.NewFlagSet("start", pflag.ExitOnError)
	ip := fs.String("ip", "127.0.0.1", "which IP to accept connections on")
	port := fs.Uint16("port", 1080, "which port to listen on")
	configPath := fs.String("config", "", "path to a YAML config file supplying listen address and sources")
	debug := fs.Bool("debug", false, "write debug-level logs")
	fs.Parse(args)

	levelName := "info"
	if *debug {
		levelName = "debug"
	}
	log := logging.New(logging.ParseLevel(levelName), os.Stderr)

	sources, listenAddr, err := resolveSources(fs.Args(), *ip, *port, *configPath)
	if err != nil {
		log.Error("failed to resolve configuration", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(listenAddr, sources, log)
	if err != nil {
		log.Error("failed to start", "error", err)
		os.Exit(1)
	}

	log.Info("dispatch-proxy started", "listen", listenAddr, "sources", len(sources))
	for _, s := range sources {
		log.Info("source configured", "address", s.String())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
		srv.Close()
	case err := <-errCh:
		if err != nil {
			log.Error("fatal server error", "error", err)
			os.Exit(1)
		}
	}
}

// resolveSources builds the weighted source address list and listen
// address from either the config file or the CLI (SPEC_FULL.md §10.3):
// when a config file is given it supplies both, and the positional
// addresses, --ip and --port are ignored; otherwise the CLI supplies both.
func resolveSources(cliAddrs []string, ip string, port uint16, configPath string) ([]addrspec.WeightedSourceAddress, string, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, "", err
		}
		sources, err := cfg.WeightedSourceAddresses()
		if err != nil {
			return nil, "", err
		}
		return sources, cfg.Listen, nil
	}

	if len(cliAddrs) == 0 {
		return nil, "", fmt.Errorf("at least one <address>[/<weight>] argument or --config is required")
	}

	sources := make([]addrspec.WeightedSourceAddress, 0, len(cliAddrs))
	for _, a := range cliAddrs {
		w, err := addrspec.Parse(a)
		if err != nil {
			return nil, "", err
		}
		sources = append(sources, w)
	}

	return sources, fmt.Sprintf("%s:%d", ip, port), nil
}
