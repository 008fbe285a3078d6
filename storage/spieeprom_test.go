package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/clockpanel/config"
)

// fakeEEPROM emulates a 25xx chip with 2 address bytes. Writes wrap at
// page boundaries like the real part does.
type fakeEEPROM struct {
	mem          []byte
	pageSize     int
	writeEnabled bool
	busyPolls    int
	stuck        bool
	busy         int
	pageWrites   []int
	closed       bool
}

func newFakeEEPROM(size, pageSize int) *fakeEEPROM {
	return &fakeEEPROM{mem: make([]byte, size), pageSize: pageSize}
}

func (f *fakeEEPROM) Exchange(data []byte) {
	switch data[0] {
	case cmdWREN:
		f.writeEnabled = true
	case cmdRDSR:
		data[1] = 0
		if f.stuck || f.busy > 0 {
			data[1] = statusWIP
			if f.busy > 0 {
				f.busy--
			}
		}
	case cmdRead:
		addr := int(data[1])<<8 | int(data[2])
		for i := 3; i < len(data); i++ {
			data[i] = f.mem[(addr+i-3)%len(f.mem)]
		}
	case cmdWrite:
		if !f.writeEnabled {
			return
		}
		addr := int(data[1])<<8 | int(data[2])
		page := addr - addr%f.pageSize
		for i, b := range data[3:] {
			f.mem[page+(addr-page+i)%f.pageSize] = b
		}
		f.pageWrites = append(f.pageWrites, addr)
		f.writeEnabled = false
		f.busy = f.busyPolls
	}
}

func (f *fakeEEPROM) Close() error {
	f.closed = true
	return nil
}

func newTestEEPROMDevice(chip *fakeEEPROM, cfg config.SPIConfig) *SPIEEPROMDevice {
	dev := NewSPIEEPROMDevice(cfg)
	dev.openBus = func(config.SPIConfig) (spiBus, error) {
		chip.closed = false
		return chip, nil
	}
	return dev
}

func testSPIConfig() config.SPIConfig {
	return config.SPIConfig{
		AddressBytes: 2,
		PageSize:     4,
		BaseAddress:  6,
		WriteTimeout: 50 * time.Millisecond,
	}
}

func TestSPIEEPROM_ReadsAtBaseAddress(t *testing.T) {
	chip := newFakeEEPROM(32, 4)
	copy(chip.mem[6:], []byte{4, 7, 10, 20, 30, 1})
	dev := newTestEEPROMDevice(chip, testSPIConfig())

	region, err := dev.Open(6)
	require.NoError(t, err)
	for i, want := range []byte{4, 7, 10, 20, 30, 1} {
		v, err := region.ByteAt(i)
		assert.NoError(t, err)
		assert.Equal(t, want, v)
	}
	require.NoError(t, region.Close())
	assert.True(t, chip.closed, "closing the region releases the bus")
}

func TestSPIEEPROM_CommitSplitsAtPageBoundaries(t *testing.T) {
	chip := newFakeEEPROM(32, 4)
	chip.busyPolls = 2
	dev := newTestEEPROMDevice(chip, testSPIConfig())

	region, err := dev.Open(6)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, region.SetByteAt(i, byte(i+1)))
	}
	require.NoError(t, region.Commit())

	// region starts at 6: page [4,8) gets 6..7, page [8,12) gets 8..11
	assert.Equal(t, []int{6, 8}, chip.pageWrites)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, chip.mem[6:12])

	chip.pageWrites = nil
	require.NoError(t, region.Commit())
	assert.Empty(t, chip.pageWrites, "a clean region writes nothing")
	require.NoError(t, region.Close())
}

func TestSPIEEPROM_OnlyDirtyRunsAreWritten(t *testing.T) {
	chip := newFakeEEPROM(32, 16)
	cfg := testSPIConfig()
	cfg.PageSize = 16
	dev := newTestEEPROMDevice(chip, cfg)

	region, err := dev.Open(6)
	require.NoError(t, err)
	require.NoError(t, region.SetByteAt(0, 9))
	require.NoError(t, region.SetByteAt(5, 1))
	require.NoError(t, region.Commit())
	require.NoError(t, region.Close())

	assert.Equal(t, []int{6, 11}, chip.pageWrites)
	assert.Equal(t, []byte{9, 0, 0, 0, 0, 1}, chip.mem[6:12])
}

func TestSPIEEPROM_WriteTimeout(t *testing.T) {
	chip := newFakeEEPROM(32, 4)
	chip.stuck = true
	cfg := testSPIConfig()
	cfg.WriteTimeout = 2 * time.Millisecond
	dev := newTestEEPROMDevice(chip, cfg)

	region, err := dev.Open(6)
	require.NoError(t, err)
	require.NoError(t, region.SetByteAt(0, 1))

	err = region.Commit()
	assert.ErrorIs(t, err, ErrStorageFault)
	assert.ErrorContains(t, err, "write cycle did not finish")
	require.NoError(t, region.Close())
}

func TestSPIEEPROM_BusOpenFailure(t *testing.T) {
	dev := NewSPIEEPROMDevice(testSPIConfig())
	dev.openBus = func(config.SPIConfig) (spiBus, error) {
		return nil, errors.New("no /dev/mem")
	}
	_, err := dev.Open(6)
	assert.ErrorIs(t, err, ErrStorageFault)
	assert.ErrorContains(t, err, "no /dev/mem")
}
