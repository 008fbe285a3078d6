package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

const CONFILE = "config.yml"

// MinRegionSize is the number of bytes the settings record occupies.
const MinRegionSize = 6

type Config struct {
	Storage  StorageConfig  `yaml:"Storage"`
	Web      WebConfig      `yaml:"Web"`
	Defaults DefaultsConfig `yaml:"Defaults"`
	Device   DeviceConfig   `yaml:"Device"`
	Logging  LoggingConfig  `yaml:"Logging"`
}

type StorageConfig struct {
	Type        string    `yaml:"Type" env:"CLOCKPANEL_STORAGE_TYPE"`
	Path        string    `yaml:"Path" env:"CLOCKPANEL_STORAGE_PATH"`
	Size        int       `yaml:"Size" env:"CLOCKPANEL_STORAGE_SIZE"`
	KeepOpen    bool      `yaml:"KeepOpen" env:"CLOCKPANEL_STORAGE_KEEP_OPEN"`
	BatchWrites bool      `yaml:"BatchWrites" env:"CLOCKPANEL_STORAGE_BATCH_WRITES"`
	JournalSize int       `yaml:"JournalSize"`
	SPI         SPIConfig `yaml:"SPI"`
}

// SPIConfig describes a 25xx series EEPROM on the Raspberry Pi SPI bus.
type SPIConfig struct {
	Device       int           `yaml:"Device"`
	ChipSelect   uint8         `yaml:"ChipSelect"`
	Speed        int           `yaml:"Speed"`
	AddressBytes int           `yaml:"AddressBytes"`
	PageSize     int           `yaml:"PageSize"`
	BaseAddress  int           `yaml:"BaseAddress"`
	WriteTimeout time.Duration `yaml:"WriteTimeout"`
}

type WebConfig struct {
	Listen         string   `yaml:"Listen" env:"CLOCKPANEL_WEB_LISTEN"`
	WriteRate      float64  `yaml:"WriteRate"`
	WriteBurst     int      `yaml:"WriteBurst"`
	AllowedOrigins []string `yaml:"AllowedOrigins,flow"`
}

// DefaultsConfig holds the values written by a provisioning run.
type DefaultsConfig struct {
	Animation int   `yaml:"Animation"`
	Separator int   `yaml:"Separator"`
	Color     []int `yaml:"Color,flow"`
	Mirror    bool  `yaml:"Mirror"`
}

type DeviceConfig struct {
	Vendor string `yaml:"Vendor"`
	Model  string `yaml:"Model"`
	Serial string `yaml:"Serial"`
}

type LoggingConfig struct {
	Level  string `yaml:"Level" env:"CLOCKPANEL_LOG_LEVEL"`
	Format string `yaml:"Format" env:"CLOCKPANEL_LOG_FORMAT"`
	File   string `yaml:"File" env:"CLOCKPANEL_LOG_FILE"`
}

func defaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			Type:        "file",
			Path:        "settings.bin",
			Size:        MinRegionSize,
			JournalSize: 32,
			SPI: SPIConfig{
				Speed:        1000000,
				AddressBytes: 2,
				PageSize:     64,
				WriteTimeout: 10 * time.Millisecond,
			},
		},
		Web: WebConfig{
			Listen:     ":8080",
			WriteRate:  2,
			WriteBurst: 5,
		},
		Defaults: DefaultsConfig{
			Color: []int{0, 0, 0},
		},
		Device: DeviceConfig{
			Vendor: "Christux",
			Model:  "ClockPanel01",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// ReadConfig decodes cfile on top of the built-in defaults, applies
// CLOCKPANEL_* environment overrides and validates the result.
func ReadConfig(cfile string) (*Config, error) {
	f, err := os.Open(cfile)
	if err != nil {
		return nil, fmt.Errorf("can't find config file %s: %w", cfile, err)
	}
	defer f.Close()

	conf := defaultConfig()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&conf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("can't decode config file %s: %w", cfile, err)
	}

	for _, section := range []any{&conf.Storage, &conf.Web, &conf.Logging} {
		if err := env.Parse(section); err != nil {
			return nil, fmt.Errorf("can't apply environment overrides: %w", err)
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) Validate() error {
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Web.validate(); err != nil {
		return err
	}
	if err := c.Defaults.validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("Logging.Format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func (s *StorageConfig) validate() error {
	if s.Size < MinRegionSize {
		return fmt.Errorf("Storage.Size must be at least %d, got %d", MinRegionSize, s.Size)
	}
	if s.JournalSize < 0 {
		return fmt.Errorf("Storage.JournalSize must be non-negative, got %d", s.JournalSize)
	}
	switch strings.ToLower(s.Type) {
	case "memory":
	case "file":
		if s.Path == "" {
			return fmt.Errorf("Storage.Path is required for storage type file")
		}
	case "spi-eeprom":
		return s.SPI.validate()
	default:
		return fmt.Errorf("unknown storage type: %s", s.Type)
	}
	return nil
}

func (s *SPIConfig) validate() error {
	if s.Device < 0 || s.Device > 2 {
		return fmt.Errorf("Storage.SPI.Device must be between 0 and 2, got %d", s.Device)
	}
	if s.AddressBytes < 1 || s.AddressBytes > 3 {
		return fmt.Errorf("Storage.SPI.AddressBytes must be between 1 and 3, got %d", s.AddressBytes)
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("Storage.SPI.PageSize must be positive, got %d", s.PageSize)
	}
	if s.Speed <= 0 {
		return fmt.Errorf("Storage.SPI.Speed must be positive, got %d", s.Speed)
	}
	if s.BaseAddress < 0 || s.BaseAddress >= 1<<(8*s.AddressBytes) {
		return fmt.Errorf("Storage.SPI.BaseAddress %d is not addressable with %d address bytes", s.BaseAddress, s.AddressBytes)
	}
	if s.WriteTimeout <= 0 {
		return fmt.Errorf("Storage.SPI.WriteTimeout must be positive, got %s", s.WriteTimeout)
	}
	return nil
}

func (w *WebConfig) validate() error {
	if w.Listen == "" {
		return fmt.Errorf("Web.Listen must not be empty")
	}
	if w.WriteRate < 0 {
		return fmt.Errorf("Web.WriteRate must be non-negative, got %v", w.WriteRate)
	}
	if w.WriteRate > 0 && w.WriteBurst < 1 {
		return fmt.Errorf("Web.WriteBurst must be at least 1 when WriteRate is set, got %d", w.WriteBurst)
	}
	return nil
}

func (d *DefaultsConfig) validate() error {
	if err := validateByte("Defaults.Animation", d.Animation); err != nil {
		return err
	}
	if err := validateByte("Defaults.Separator", d.Separator); err != nil {
		return err
	}
	if len(d.Color) != 3 {
		return fmt.Errorf("Defaults.Color must have 3 components, got %d", len(d.Color))
	}
	for i, v := range d.Color {
		if err := validateByte(fmt.Sprintf("Defaults.Color[%d]", i), v); err != nil {
			return err
		}
	}
	return nil
}

func validateByte(name string, v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("%s must be between 0 and 255, got %d", name, v)
	}
	return nil
}

// Local Variables:
// compile-command: "cd .. && go build"
// End:
