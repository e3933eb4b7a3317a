package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BertoldVdb/gpiosrv/config"
	"github.com/BertoldVdb/gpiosrv/gpio"
	"github.com/BertoldVdb/gpiosrv/kernel"
	"github.com/BertoldVdb/gpiosrv/logrusconfig"
	"github.com/BertoldVdb/gpiosrv/policy"
	"github.com/BertoldVdb/gpiosrv/regs"
	"github.com/BertoldVdb/gpiosrv/result"
	"github.com/BertoldVdb/gpiosrv/server"
	"github.com/BertoldVdb/gpiosrv/simkernel"
	"github.com/BertoldVdb/gpiosrv/supervisor"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

var (
	Stderr io.Writer = os.Stderr

	opts struct {
		Config   string `short:"c" long:"config" description:"YAML configuration file" value-name:"FILE"`
		LogLevel string `long:"loglevel" description:"Log level (trace, debug, info, warn, error)"`
		Firm     string `long:"firm" description:"Kernel version to emulate, as major.minor.revision"`
		Backend  string `long:"backend" description:"Register backend" choice:"sim" choice:"mmio"`
		Demo     bool   `long:"demo" description:"Run demonstration clients and exit"`
	}
	parser = flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, e.Message)
			return
		}
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(args []string) (config.Config, error) {
	if _, err := parser.ParseArgs(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, err
	}

	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.Firm != "" {
		cfg.Firmware = opts.Firm
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.Demo {
		cfg.Demo = true
	}

	return cfg, cfg.Validate()
}

type fatalReporter struct {
	log  *logrus.Entry
	kern *simkernel.Kernel
}

func (f fatalReporter) ThrowFatal(code result.Code) {
	f.log.WithField("code", code).Error("Fatal error thrown")
	f.kern.ThrowFatal(code)
}

func openBus(cfg config.Config, log *logrus.Entry) (regs.Bus, func() error, error) {
	if cfg.Backend == config.BackendMMIO {
		m, err := regs.OpenMMIO(cfg.MMIO.Device, cfg.MMIO.Base, gpio.IOSize)
		if err != nil {
			return nil, nil, err
		}
		log.WithFields(logrus.Fields{"device": cfg.MMIO.Device, "base": fmt.Sprintf("0x%x", cfg.MMIO.Base)}).Info("Registers mapped")
		return m, m.Close, nil
	}

	return regs.NewMemory(gpio.IOSize), func() error { return nil }, nil
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	level, _ := cfg.Level()
	version, _ := cfg.Version()
	log := logrusconfig.GetLogger(level)

	bus, closeBus, err := openBus(cfg, log)
	if err != nil {
		return err
	}
	defer closeBus()

	k := simkernel.New(log)
	p := policy.New(version)
	srv := server.New(server.Config{
		Policy:   p,
		Kernel:   k,
		Services: k,
		Fatal:    fatalReporter{log: logrusconfig.Component(log, "fatal"), kern: k},
		Bus:      bus,
		Log:      log,
	})

	sup := supervisor.New(log)
	sup.AddFunc("server", srv.Run, func() error {
		k.Notify(kernel.NotificationTermination)
		return nil
	})

	if cfg.Demo {
		sup.AddFunc("demo", func() error {
			err := runDemo(k, p, sup.Done(), logrusconfig.Component(log, "demo"))
			sup.Close()
			return err
		}, nil)
	}

	sup.HandleSignals(10 * time.Second)
	return sup.Run()
}
