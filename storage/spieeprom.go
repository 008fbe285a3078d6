package storage

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/stianeikeland/go-rpio/v4"

	"lautenbacher.net/clockpanel/config"
)

// 25xx series instruction set
const (
	cmdRead  = 0x03
	cmdWrite = 0x02
	cmdWREN  = 0x06
	cmdRDSR  = 0x05

	statusWIP = 0x01
)

// spiBus is a full duplex SPI transfer; the response replaces data.
type spiBus interface {
	Exchange(data []byte)
	Close() error
}

// SPIEEPROMDevice talks to a 25xx series EEPROM attached to the
// Raspberry Pi SPI bus.
type SPIEEPROMDevice struct {
	cfg     config.SPIConfig
	openBus func(config.SPIConfig) (spiBus, error)
}

func NewSPIEEPROMDevice(cfg config.SPIConfig) *SPIEEPROMDevice {
	return &SPIEEPROMDevice{cfg: cfg, openBus: openRpioBus}
}

// rpio keeps global state, so only one bus may be open at a time.
var rpioMutex sync.Mutex

type rpioBus struct {
	dev rpio.SpiDev
}

func openRpioBus(cfg config.SPIConfig) (spiBus, error) {
	rpioMutex.Lock()
	if err := rpio.Open(); err != nil {
		rpioMutex.Unlock()
		return nil, fmt.Errorf("failed to open rpio: %w", err)
	}
	dev := rpio.SpiDev(cfg.Device)
	if err := rpio.SpiBegin(dev); err != nil {
		rpio.Close()
		rpioMutex.Unlock()
		return nil, fmt.Errorf("failed to begin spi: %w", err)
	}
	rpio.SpiSpeed(cfg.Speed)
	rpio.SpiChipSelect(cfg.ChipSelect)
	rpio.SpiMode(0, 0)
	return &rpioBus{dev: dev}, nil
}

func (b *rpioBus) Exchange(data []byte) {
	rpio.SpiExchange(data)
}

func (b *rpioBus) Close() error {
	defer rpioMutex.Unlock()
	rpio.SpiEnd(b.dev)
	return rpio.Close()
}

func (d *SPIEEPROMDevice) Open(size int) (Region, error) {
	if size <= 0 {
		return nil, fault("open", fmt.Errorf("invalid size %d", size))
	}
	bus, err := d.openBus(d.cfg)
	if err != nil {
		return nil, fault("open", err)
	}
	r := &eepromRegion{cfg: d.cfg, bus: bus}

	frame := append(r.header(cmdRead, d.cfg.BaseAddress), make([]byte, size)...)
	bus.Exchange(frame)
	buf := make([]byte, size)
	copy(buf, frame[1+d.cfg.AddressBytes:])
	r.cache = newCache(buf)
	return r, nil
}

type eepromRegion struct {
	cfg   config.SPIConfig
	bus   spiBus
	cache *cache
}

func (r *eepromRegion) header(cmd byte, address int) []byte {
	hdr := make([]byte, 1+r.cfg.AddressBytes)
	hdr[0] = cmd
	for i := r.cfg.AddressBytes; i > 0; i-- {
		hdr[i] = byte(address)
		address >>= 8
	}
	return hdr
}

func (r *eepromRegion) ByteAt(offset int) (byte, error) {
	if r.bus == nil {
		return 0, fault("read", fmt.Errorf("region closed"))
	}
	return r.cache.get(offset)
}

func (r *eepromRegion) SetByteAt(offset int, value byte) error {
	if r.bus == nil {
		return fault("write", fmt.Errorf("region closed"))
	}
	return r.cache.set(offset, value)
}

// Commit writes every dirty run, split at page boundaries, and waits for
// the chip to finish each write cycle.
func (r *eepromRegion) Commit() error {
	if r.bus == nil {
		return fault("commit", fmt.Errorf("region closed"))
	}
	size := len(r.cache.data)
	for start := 0; start < size; {
		if !r.cache.dirty[start] {
			start++
			continue
		}
		end := start
		for end < size && r.cache.dirty[end] {
			address := r.cfg.BaseAddress + end
			end++
			if (address+1)%r.cfg.PageSize == 0 {
				break
			}
		}
		if err := r.writePage(r.cfg.BaseAddress+start, r.cache.data[start:end]); err != nil {
			return fault("commit", err)
		}
		start = end
	}
	r.cache.clean()
	return nil
}

func (r *eepromRegion) writePage(address int, data []byte) error {
	r.bus.Exchange([]byte{cmdWREN})
	frame := append(r.header(cmdWrite, address), data...)
	r.bus.Exchange(frame)
	slog.Debug("EEPROM page written", "address", address, "len", len(data))
	return r.waitReady()
}

func (r *eepromRegion) waitReady() error {
	b := &backoff.Backoff{
		Min:    100 * time.Microsecond,
		Max:    2 * time.Millisecond,
		Factor: 2,
	}
	deadline := time.Now().Add(r.cfg.WriteTimeout)
	for {
		status := []byte{cmdRDSR, 0}
		r.bus.Exchange(status)
		if status[1]&statusWIP == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("write cycle did not finish within %s", r.cfg.WriteTimeout)
		}
		time.Sleep(b.Duration())
	}
}

func (r *eepromRegion) Close() error {
	if r.bus == nil {
		return nil
	}
	err := r.bus.Close()
	r.bus = nil
	if err != nil {
		return fault("close", err)
	}
	return nil
}
