// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/lpf2/pkg/hub"
	"github.com/Thermoquad/lpf2/pkg/lpf2"
	"github.com/Thermoquad/lpf2/pkg/telemetry"
	"github.com/Thermoquad/lpf2/pkg/transport"
)

var (
	bridgeListen string
	bridgeMaps   []string
	bridgePath   string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve local ports to remote clients over WebSocket",
	Long: `Expose local serial adapters as hub ports over the WebSocket bridge
protocol, so that other machines can connect with --url.

Each hub port maps to one serial device. Mappings come from bridge.ports in
the configuration file and from --map flags. With --sim, every hub port is
backed by a fresh simulated device instead.

When bridge.username is set, clients must authenticate with HTTP Basic auth;
the password is read from LPF2_PASSWORD or prompted.

Session counts per port are exported in Prometheus format on /metrics.

Examples:
  lpf2 bridge --map A=/dev/ttyUSB0 --map B=/dev/ttyUSB1
  lpf2 bridge --sim motor --listen :9000`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeListen, "listen", "", "Listen address (overrides bridge.listen)")
	bridgeCmd.Flags().StringArrayVar(&bridgeMaps, "map", nil, "Hub port to serial device mapping, e.g. A=/dev/ttyUSB0")
	bridgeCmd.Flags().StringVar(&bridgePath, "path", "/lpf2", "HTTP path of the WebSocket endpoint")
}

// parsePortMap merges the configured mappings with PORT=DEVICE flags, keyed
// by port number.
func parsePortMap(cfg map[string]string, flags []string) (map[int]string, error) {
	out := make(map[int]string)
	add := func(name, dev string) error {
		p, err := hub.Parse(name)
		if err != nil {
			return err
		}
		if dev == "" {
			return fmt.Errorf("port %s: empty device", p.Name())
		}
		out[p.Number] = dev
		return nil
	}

	for name, dev := range cfg {
		if err := add(name, dev); err != nil {
			return nil, err
		}
	}
	for _, m := range flags {
		name, dev, ok := strings.Cut(m, "=")
		if !ok {
			return nil, fmt.Errorf("invalid mapping %q (want PORT=DEVICE)", m)
		}
		if err := add(strings.TrimSpace(name), strings.TrimSpace(dev)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// bridgeOpener returns the BridgeServer.Open function for the mapped ports,
// or for simulated devices of kind sim.
func bridgeOpener(ports map[int]string, sim string) (func(hub.Port) (lpf2.Transport, error), error) {
	if sim != "" {
		dev, err := SimDevice(sim)
		if err != nil {
			return nil, err
		}
		return func(hub.Port) (lpf2.Transport, error) {
			return transport.NewSim(dev), nil
		}, nil
	}

	if len(ports) == 0 {
		return nil, errors.New("no ports mapped: use --map or bridge.ports")
	}
	return func(p hub.Port) (lpf2.Transport, error) {
		dev, ok := ports[p.Number]
		if !ok {
			return nil, fmt.Errorf("no device on port %s", p.Name())
		}
		return transport.OpenSerial(dev, lpf2.BaudHandshake)
	}, nil
}

func runBridge(cmd *cobra.Command, args []string) error {
	listen := config.Bridge.Listen
	if bridgeListen != "" {
		listen = bridgeListen
	}

	ports, err := parsePortMap(config.Bridge.Ports, bridgeMaps)
	if err != nil {
		return err
	}
	open, err := bridgeOpener(ports, config.Connection.Sim)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	sessions := telemetry.NewBridgeMetrics(reg)

	srv := &transport.BridgeServer{
		Open: func(p hub.Port) (lpf2.Transport, error) {
			return sessions.Instrument(p.Name(), func() (lpf2.Transport, error) { return open(p) })
		},
		Username: config.Bridge.Username,
	}
	if srv.Username != "" {
		if srv.Password, err = GetPassword(); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle(bridgePath, srv)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	fmt.Printf("lpf2 - WebSocket Bridge\n")
	fmt.Printf("Listening on %s%s\n", listen, bridgePath)
	if config.Connection.Sim != "" {
		fmt.Printf("  all ports: simulated %s\n", config.Connection.Sim)
	}
	for _, n := range sortedPorts(ports) {
		p, _ := hub.Lookup(n)
		fmt.Printf("  port %s: %s\n", p.Name(), ports[n])
	}

	ctx, stop := signalContext()
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	glog.Infof("bridge: shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func sortedPorts(ports map[int]string) []int {
	out := make([]int, 0, len(ports))
	for n := range ports {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
