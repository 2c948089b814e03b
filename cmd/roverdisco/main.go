// Command roverdisco scans the local buses for rover hardware: USB serial
// ports, I2C addresses, CAN traffic, and declared SPI devices. Candidates
// are printed as they appear and optionally exported as JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wtyler2505/roverhal/discovery"
	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

func main() {
	continuous := flag.Bool("watch", false, "keep scanning until interrupted")
	interval := flag.Duration("interval", 30*time.Second, "scan interval in watch mode")
	i2cBus := flag.String("i2c", "", "I2C bus to probe (e.g. /dev/i2c-1)")
	canIface := flag.String("can", "", "CAN interface to sniff (e.g. can0)")
	spiDecls := flag.String("spi", "", "YAML file of declared SPI devices")
	noProbe := flag.Bool("no-probe", false, "skip active serial identification probes")
	exportPath := flag.String("export", "", "write discovered candidates as JSON to this file")

	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serialOpts []discovery.SerialScannerOption
	if *noProbe {
		serialOpts = append(serialOpts, discovery.WithoutProbes())
	}
	scanners := []discovery.Scanner{
		discovery.NewSerialScanner(log, serialOpts...),
	}
	if *i2cBus != "" {
		scanners = append(scanners, discovery.NewI2CScanner(log, *i2cBus))
	}
	if *canIface != "" {
		scanners = append(scanners, discovery.NewCANScanner(log, *canIface, 2*time.Second))
	}
	if *spiDecls != "" {
		decls, err := loadSPIDeclarations(*spiDecls)
		if err != nil {
			log.Error(ctx, "load SPI declarations", logging.Err(err))
			os.Exit(1)
		}
		scanners = append(scanners, discovery.NewSPIScanner(log, decls))
	}

	engine := discovery.NewEngine(log, scanners, discovery.WithScanInterval(*interval))
	engine.Subscribe(model.EventDeviceDiscovered, func(ev model.Event) {
		fmt.Printf("+ %v (%v, confidence %v)\n", ev.Data["device_id"], ev.Data["class"], ev.Data["confidence"])
	})
	engine.Subscribe(model.EventDeviceLost, func(ev model.Event) {
		fmt.Printf("- %v\n", ev.Data["device_id"])
	})

	if *continuous {
		if err := engine.Start(ctx); err != nil {
			log.Error(ctx, "start discovery", logging.Err(err))
			os.Exit(1)
		}
		<-ctx.Done()
		engine.Stop()
	} else {
		engine.ScanOnce(ctx)
	}

	candidates := engine.Candidates()
	fmt.Printf("%d candidate(s):\n", len(candidates))
	for _, c := range candidates {
		fmt.Printf("  %-28s %-10s %-14s confidence %.2f\n", c.ID, c.Protocol, c.Class, c.Confidence)
	}

	if *exportPath != "" {
		data, err := engine.ExportJSON()
		if err != nil {
			log.Error(ctx, "export candidates", logging.Err(err))
			os.Exit(1)
		}
		if err := os.WriteFile(*exportPath, data, 0o644); err != nil {
			log.Error(ctx, "write export", logging.Err(err))
			os.Exit(1)
		}
		fmt.Printf("exported to %s\n", *exportPath)
	}
}

func loadSPIDeclarations(path string) ([]discovery.SPIDeclaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var decls []discovery.SPIDeclaration
	if err := yaml.Unmarshal(data, &decls); err != nil {
		return nil, fmt.Errorf("parse SPI declarations: %w", err)
	}
	return decls, nil
}
