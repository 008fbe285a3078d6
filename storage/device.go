package storage

import (
	"fmt"
	"strings"

	"lautenbacher.net/clockpanel/config"
)

const (
	TypeMemory    = "memory"
	TypeFile      = "file"
	TypeSPIEEPROM = "spi-eeprom"
)

// NewDevice builds the backend selected by the storage configuration.
func NewDevice(cfg config.StorageConfig) (Device, error) {
	switch strings.ToLower(cfg.Type) {
	case TypeMemory:
		return NewMemoryDevice(cfg.Size), nil
	case TypeFile:
		return NewFileDevice(cfg.Path), nil
	case TypeSPIEEPROM:
		return NewSPIEEPROMDevice(cfg.SPI), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
