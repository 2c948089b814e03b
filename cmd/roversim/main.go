// Command roversim runs the rover hardware simulation: simulated devices
// behind Mock adapters, environment and physics stepping, optional network
// impairment, scenario playback and event recording.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wtyler2505/roverhal/hal"
	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/internal/observability"
	"github.com/wtyler2505/roverhal/model"
	"github.com/wtyler2505/roverhal/sim"
	"github.com/wtyler2505/roverhal/sim/netsim"
	"github.com/wtyler2505/roverhal/sim/scenario"
)

func main() {
	duration := flag.Duration("duration", 60*time.Second, "total simulation duration")
	tick := flag.Duration("tick", 10*time.Millisecond, "simulation tick interval")
	accelerated := flag.Float64("accelerated", 0, "time acceleration factor (0 = real time)")
	profilesPath := flag.String("profiles", "configs/devices.yaml", "device profile library")
	devices := flag.String("devices", "", "comma-separated profile ids to instantiate (default: all)")
	networkPreset := flag.String("network", "", "network preset for the uplink (ideal, satellite, cellular_4g, wifi_poor)")
	networkProfiles := flag.String("network-profiles", "", "YAML file of custom network profiles")
	scenarioPath := flag.String("scenario", "", "scenario JSON to play against the simulation")
	recordPath := flag.String("record", "", "write a CBOR event recording to this file")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	seed := flag.Int64("seed", 0, "deterministic seed for sensor/actuator/network randomness (0 = time-based)")

	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		fatal(log, "init tracing", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewHALCollector(nil)
	if err != nil {
		fatal(log, "init metrics", err)
	}

	registry := hal.NewRegistry(log, hal.WithRegistryMetrics(collector))
	factory := hal.NewFactory(registry, log, hal.WithFactoryMetrics(collector))

	// ==== Device profiles ====

	library, err := sim.LoadProfilesFile(*profilesPath)
	if err != nil {
		fatal(log, "load device profiles", err)
	}
	ids := library.IDs()
	if *devices != "" {
		ids = strings.Split(*devices, ",")
	}

	// ==== Optional network impairment ====

	var net *netsim.Simulator
	if *networkPreset != "" {
		profile, err := resolveNetworkProfile(*networkPreset, *networkProfiles)
		if err != nil {
			fatal(log, "resolve network profile", err)
		}
		netOpts := []netsim.SimulatorOption{netsim.WithNetMetrics(collector)}
		if *seed != 0 {
			netOpts = append(netOpts, netsim.WithSeed(*seed))
		}
		net = netsim.NewSimulator(log, func(link string, payload []byte) {
			log.Debug(ctx, "uplink delivered",
				logging.String("link", link),
				logging.Int("bytes", len(payload)),
			)
		}, netOpts...)
		if err := net.AddLink("uplink", profile); err != nil {
			fatal(log, "add uplink", err)
		}
	}

	// ==== Engine ====

	clock := sim.NewClock(*tick)
	if *accelerated > 0 {
		clock.SetMode(sim.Accelerated, *accelerated)
	}
	opts := []sim.EngineOption{
		sim.WithEngineMetrics(collector),
		sim.WithClock(clock),
	}
	if net != nil {
		opts = append(opts, sim.WithNetwork(net))
	}
	if *seed != 0 {
		opts = append(opts, sim.WithEngineSeed(*seed))
	}
	engine := sim.NewEngine(log, factory, registry, opts...)

	var recorder *scenario.Recorder
	if *recordPath != "" {
		recorder = scenario.NewRecorder(fmt.Sprintf("run-%d", time.Now().Unix()), map[string]string{
			"profiles": *profilesPath,
		})
		engine.SetRecorder(recorder)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error(ctx, "metrics server stopped", logging.Err(err))
			}
		}()
		log.Info(ctx, "metrics listening", logging.String("addr", *metricsAddr))
	}

	if err := engine.Start(ctx); err != nil {
		fatal(log, "start engine", err)
	}
	for _, id := range ids {
		components, err := library.Components(strings.TrimSpace(id))
		if err != nil {
			fatal(log, "expand profile", err)
		}
		for _, profile := range components {
			if err := engine.AddDevice(ctx, profile); err != nil {
				fatal(log, "add device", err)
			}
		}
	}
	engine.Subscribe(model.EventTelemetry, func(ev model.Event) {
		log.Debug(ctx, "telemetry",
			logging.String("device", ev.Source),
			logging.Any("data", ev.Data),
		)
	})

	// ==== Optional scenario playback ====

	if *scenarioPath != "" {
		if err := playScenario(ctx, log, engine, net, *scenarioPath); err != nil {
			log.Error(ctx, "scenario failed", logging.Err(err))
		}
	} else {
		select {
		case <-ctx.Done():
			log.Info(ctx, "interrupted")
		case <-time.After(*duration):
		}
	}

	engine.Stop(ctx)
	if err := registry.DisconnectAll(context.Background()); err != nil {
		log.Warn(ctx, "adapter teardown incomplete", logging.Err(err))
	}

	if recorder != nil {
		if err := writeRecording(recorder, *recordPath); err != nil {
			fatal(log, "write recording", err)
		}
		log.Info(ctx, "recording written",
			logging.String("path", *recordPath),
			logging.Int("events", recorder.Len()),
		)
	}
}

func resolveNetworkProfile(name, customPath string) (netsim.Profile, error) {
	if customPath != "" {
		data, err := os.ReadFile(customPath)
		if err != nil {
			return netsim.Profile{}, err
		}
		custom, err := netsim.LoadProfiles(data)
		if err != nil {
			return netsim.Profile{}, err
		}
		if p, ok := custom[name]; ok {
			return p, nil
		}
	}
	return netsim.Preset(name)
}

func playScenario(ctx context.Context, log logging.Logger, engine *sim.Engine, net *netsim.Simulator, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := scenario.DecodeJSON(data)
	if err != nil {
		return err
	}

	player := scenario.NewPlayer(log)
	sim.RegisterEngineHandlers(player, engine, net)

	res, err := player.Run(ctx, s)
	if res != nil {
		log.Info(ctx, "scenario finished",
			logging.String("scenario", res.ScenarioID),
			logging.Int("passed", res.Passed),
			logging.Int("failed", res.Failed),
			logging.Int("skipped", res.Skipped),
			logging.Int("asserts", res.Asserts),
			logging.String("duration", res.Duration.String()),
		)
	}
	return err
}

func writeRecording(rec *scenario.Recorder, path string) error {
	recording := rec.Finish()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := recording.WriteTo(f); err != nil {
		return err
	}
	return f.Close()
}

func fatal(log logging.Logger, msg string, err error) {
	log.Error(context.Background(), msg, logging.Err(err))
	os.Exit(1)
}
