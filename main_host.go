//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"sparkrt/app"
	"sparkrt/hal"
	"sparkrt/internal/buildinfo"
	"sparkrt/sparkos/config"
)

func main() {
	var (
		headless   hal.HeadlessConfig
		opts       hal.Options
		enabled    bool
		configPath string
		demos      string
		logLevel   string
		monitor    uint
		dumpConfig bool
		version    bool
	)
	flag.BoolVar(&enabled, "headless", false, "Run without a window.")
	flag.IntVar(&headless.Hz, "hz", 0, "Host tick pump rate (default from the config file).")
	flag.Uint64Var(&headless.Ticks, "ticks", 0, "Stop after N kernel ticks in headless mode (0 = run forever).")
	flag.StringVar(&configPath, "config", "", "YAML configuration file.")
	flag.BoolVar(&opts.TTY, "tty", false, "Read raw keys from the terminal (headless).")
	flag.StringVar(&opts.TTYDevice, "tty-device", "", "Terminal device to use with -tty.")
	flag.StringVar(&opts.SerialPort, "serial", "", "Attach the console to a serial port.")
	flag.IntVar(&opts.SerialBaud, "baud", 115200, "Serial port baud rate.")
	flag.StringVar(&opts.Color, "color", "auto", "Colour log tags: auto, always or never.")
	flag.StringVar(&demos, "demo", "", "Comma separated demos to start (inherit, pipe, cond).")
	flag.StringVar(&logLevel, "log-level", "", "Kernel log level: none, error, warn, info or debug.")
	flag.UintVar(&monitor, "monitor", 0, "Print the thread table every N ticks.")
	flag.BoolVar(&dumpConfig, "dump-config", false, "Print the effective configuration and exit.")
	flag.BoolVar(&version, "version", false, "Print the version and exit.")
	flag.Parse()

	if version {
		fmt.Println("sparkrt", buildinfo.Long())
		return
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			fatal(err)
		}
	}
	if demos != "" {
		cfg.Demos = append(cfg.Demos, strings.Split(demos, ",")...)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if monitor > 0 {
		cfg.Monitor.Every = uint32(monitor)
	}
	if headless.Hz == 0 {
		headless.Hz = cfg.Hz
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if dumpConfig {
		b, err := cfg.Marshal()
		if err != nil {
			fatal(err)
		}
		os.Stdout.Write(b)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	if enabled {
		err = hal.RunHeadless(ctx, opts, app.Starter(cfg), headless)
	} else {
		err = hal.RunWindow(ctx, opts, app.Starter(cfg))
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, hal.ErrInterrupted) {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
