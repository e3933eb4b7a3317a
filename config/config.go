// Package config loads the settings of gpiosrv from a YAML file
package config

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/BertoldVdb/gpiosrv/policy"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrUnknownBackend Error = "Unknown register backend"
	ErrNoDevice       Error = "The mmio backend needs a device"
)

const (
	BackendSim  = "sim"
	BackendMMIO = "mmio"
)

type MMIO struct {
	Device string `yaml:"device"`
	Base   uint64 `yaml:"base"`
}

type Config struct {
	Firmware string `yaml:"firmware"`
	LogLevel string `yaml:"loglevel"`
	Backend  string `yaml:"backend"`
	MMIO     MMIO   `yaml:"mmio"`

	// Demo runs a few in-process clients against the sim backend
	Demo bool `yaml:"demo"`
}

// Default returns the settings used for anything the file does not set
func Default() Config {
	return Config{
		Firmware: "2.50.11",
		LogLevel: "info",
		Backend:  BackendSim,
		MMIO: MMIO{
			Device: "/dev/mem",
			Base:   0x10147000,
		},
	}
}

// Parse decodes YAML on top of the defaults and validates the result
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("Failed to decode configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads the file at path. An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	} else if err != nil {
		return Config{}, err
	}

	return Parse(data)
}

func (c Config) Validate() error {
	if _, err := c.Version(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}

	switch c.Backend {
	case BackendSim:
	case BackendMMIO:
		if c.MMIO.Device == "" {
			return ErrNoDevice
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}

	return nil
}

func (c Config) Version() (policy.FirmVersion, error) {
	return policy.ParseVersion(c.Firmware)
}

func (c Config) Level() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}
