package settings

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/clockpanel/storage"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *storage.MemoryDevice) {
	t.Helper()
	dev := storage.NewMemoryDevice(6)
	store, err := NewStore(dev, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dev
}

// modes runs a test against the default per-call cycles and against a
// region kept open for the lifetime of the store.
var modes = map[string][]Option{
	"PerCall":    nil,
	"Persistent": {WithPersistentRegion()},
}

func TestStore_FreshRegionReadsZero(t *testing.T) {
	for name, opts := range modes {
		t.Run(name, func(t *testing.T) {
			store, _ := newTestStore(t, opts...)

			mirror, err := store.ReadMirror()
			assert.NoError(t, err)
			assert.False(t, mirror, "mirror should be false on a zeroed region")

			id, err := store.ReadMainAnimationID()
			assert.NoError(t, err)
			assert.Equal(t, uint8(0), id)
		})
	}
}

func TestStore_RoundTripEveryByte(t *testing.T) {
	for name, opts := range modes {
		t.Run(name, func(t *testing.T) {
			store, _ := newTestStore(t, opts...)

			for v := 0; v <= 255; v++ {
				b := uint8(v)
				require.NoError(t, store.WriteMainAnimationID(b))
				require.NoError(t, store.WriteSeparatorAnimationID(255-b))
				require.NoError(t, store.WriteColor(RgbColor{R: b, G: b / 2, B: 255 - b}))

				main, err := store.ReadMainAnimationID()
				require.NoError(t, err)
				sep, err := store.ReadSeparatorAnimationID()
				require.NoError(t, err)
				color, err := store.ReadColor()
				require.NoError(t, err)

				assert.Equal(t, b, main)
				assert.Equal(t, 255-b, sep)
				assert.Equal(t, RgbColor{R: b, G: b / 2, B: 255 - b}, color)
			}
		})
	}
}

func TestStore_ColorRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.WriteColor(RgbColor{R: 10, G: 20, B: 30}))
	color, err := store.ReadColor()
	assert.NoError(t, err)
	assert.Equal(t, RgbColor{R: 10, G: 20, B: 30}, color)
}

func TestStore_NoCrossTalk(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.WriteMainAnimationID(4))
	require.NoError(t, store.WriteSeparatorAnimationID(7))

	main, err := store.ReadMainAnimationID()
	assert.NoError(t, err)
	assert.Equal(t, uint8(4), main)

	sep, err := store.ReadSeparatorAnimationID()
	assert.NoError(t, err)
	assert.Equal(t, uint8(7), sep)
}

func TestStore_FieldIndependence(t *testing.T) {
	initial := []byte{11, 22, 33, 44, 55, 1}
	writes := map[string]func(*Store) error{
		FieldMainAnimation:      func(s *Store) error { return s.WriteMainAnimationID(200) },
		FieldSeparatorAnimation: func(s *Store) error { return s.WriteSeparatorAnimationID(201) },
		"color":                 func(s *Store) error { return s.WriteColor(RgbColor{R: 1, G: 2, B: 3}) },
		FieldMirror:             func(s *Store) error { return s.WriteMirror(false) },
	}
	touched := map[string][]int{
		FieldMainAnimation:      {0},
		FieldSeparatorAnimation: {1},
		"color":                 {2, 3, 4},
		FieldMirror:             {5},
	}

	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			dev := storage.NewMemoryDeviceFrom(initial)
			store, err := NewStore(dev)
			require.NoError(t, err)

			require.NoError(t, write(store))

			after := dev.Bytes()
			for i := range initial {
				if slices.Contains(touched[name], i) {
					continue
				}
				assert.Equal(t, initial[i], after[i], "byte %d must not change when writing %s", i, name)
			}
		})
	}
}

func TestStore_MirrorEncoding(t *testing.T) {
	store, dev := newTestStore(t)

	require.NoError(t, store.WriteMirror(true))
	assert.Equal(t, byte(1), dev.Bytes()[5], "true must be stored as exactly 1")
	mirror, err := store.ReadMirror()
	assert.NoError(t, err)
	assert.True(t, mirror)

	require.NoError(t, store.WriteMirror(false))
	assert.Equal(t, byte(0), dev.Bytes()[5], "false must be stored as exactly 0")
	mirror, err = store.ReadMirror()
	assert.NoError(t, err)
	assert.False(t, mirror)
}

func TestStore_MirrorNonZeroIsTrue(t *testing.T) {
	for _, raw := range []byte{1, 2, 0x80, 0xff} {
		dev := storage.NewMemoryDeviceFrom([]byte{0, 0, 0, 0, 0, raw})
		store, err := NewStore(dev)
		require.NoError(t, err)

		mirror, err := store.ReadMirror()
		assert.NoError(t, err)
		assert.True(t, mirror, "stored byte %#x should read as true", raw)
	}
}

func TestStore_Idempotence(t *testing.T) {
	once, _ := newTestStore(t)
	twice, _ := newTestStore(t)

	require.NoError(t, once.WriteSeparatorAnimationID(9))
	require.NoError(t, twice.WriteSeparatorAnimationID(9))
	require.NoError(t, twice.WriteSeparatorAnimationID(9))

	a, err := once.ReadSeparatorAnimationID()
	assert.NoError(t, err)
	b, err := twice.ReadSeparatorAnimationID()
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStore_PerCallCycles(t *testing.T) {
	store, dev := newTestStore(t)

	require.NoError(t, store.WriteMainAnimationID(1))
	require.NoError(t, store.WriteMirror(true))
	_, err := store.ReadColor()
	require.NoError(t, err)

	assert.Equal(t, 3, dev.Opens(), "every call should open its own region")
	assert.Equal(t, 2, dev.Commits(), "every write call should commit")

	require.NoError(t, store.WriteColor(RgbColor{R: 1, G: 2, B: 3}))
	assert.Equal(t, 5, dev.Commits(), "each color byte is committed on its own")
}

func TestStore_PersistentRegionOpensOnce(t *testing.T) {
	store, dev := newTestStore(t, WithPersistentRegion())

	require.NoError(t, store.WriteMainAnimationID(1))
	require.NoError(t, store.WriteMirror(true))
	_, err := store.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 1, dev.Opens())
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 1}, dev.Bytes(), "writes must be committed immediately")
}

func TestStore_UpdateCommitsOnce(t *testing.T) {
	store, dev := newTestStore(t)

	err := store.Update(func(tx *Tx) error {
		if err := tx.SetMainAnimationID(4); err != nil {
			return err
		}
		if err := tx.SetColor(RgbColor{R: 43, G: 0, B: 43}); err != nil {
			return err
		}
		// reads see the batch's own writes
		id, err := tx.MainAnimationID()
		assert.Equal(t, uint8(4), id)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 1, dev.Opens())
	assert.Equal(t, 1, dev.Commits())
	assert.Equal(t, []byte{4, 0, 43, 0, 43, 0}, dev.Bytes())
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	for name, opts := range modes {
		t.Run(name, func(t *testing.T) {
			store, dev := newTestStore(t, opts...)
			boom := errors.New("boom")

			err := store.Update(func(tx *Tx) error {
				if err := tx.SetMirror(true); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, 0, dev.Commits())

			mirror, err := store.ReadMirror()
			assert.NoError(t, err)
			assert.False(t, mirror, "uncommitted batch must not be visible")
		})
	}
}

func TestStore_ProvisionAndSnapshot(t *testing.T) {
	store, dev := newTestStore(t)
	want := Settings{
		MainAnimationID:      4,
		SeparatorAnimationID: 2,
		Color:                RgbColor{R: 43, G: 0, B: 43},
		Mirror:               true,
	}

	require.NoError(t, store.Provision(want))
	assert.Equal(t, []byte{4, 2, 43, 0, 43, 1}, dev.Bytes())

	got, err := store.Snapshot()
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_StorageFaultPropagates(t *testing.T) {
	store, dev := newTestStore(t)
	dev.SetFault(errors.New("bus error"))

	err := store.WriteMainAnimationID(3)
	assert.ErrorIs(t, err, storage.ErrStorageFault)

	_, err = store.ReadColor()
	assert.ErrorIs(t, err, storage.ErrStorageFault)

	dev.SetFault(nil)
	id, err := store.ReadMainAnimationID()
	assert.NoError(t, err)
	assert.Equal(t, uint8(0), id)
}

func TestStore_RegionTooSmall(t *testing.T) {
	store, err := NewStore(storage.NewMemoryDevice(5))
	require.NoError(t, err)

	_, err = store.ReadMirror()
	assert.ErrorIs(t, err, storage.ErrStorageFault)
}

func TestStore_JournalAndChanges(t *testing.T) {
	journal := NewJournal(3)
	store, _ := newTestStore(t, WithJournal(journal))
	fixed := time.Date(2020, 11, 13, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	require.NoError(t, store.WriteMainAnimationID(4))
	require.NoError(t, store.WriteColor(RgbColor{R: 1, G: 2, B: 3}))

	recent := journal.Recent()
	assert.Equal(t, []Change{
		{Field: FieldColorRed, Value: 1, Time: fixed},
		{Field: FieldColorGreen, Value: 2, Time: fixed},
		{Field: FieldColorBlue, Value: 3, Time: fixed},
	}, recent, "journal should keep only the last 3 writes")

	assert.True(t, store.Changes().Pending())
	last, ok := store.Changes().Load()
	assert.True(t, ok)
	assert.Equal(t, FieldColorBlue, last.Field)
}

func TestNewStore_RejectsIncompleteSchema(t *testing.T) {
	schema, err := NewSchema(Layout[:5]...)
	require.NoError(t, err)

	_, err = NewStore(storage.NewMemoryDevice(6), WithSchema(schema))
	assert.ErrorContains(t, err, `schema lacks field "mirror"`)
}

func TestStore_CustomSchemaOffsets(t *testing.T) {
	shifted := make([]Field, len(Layout))
	for i, f := range Layout {
		f.Offset += 10
		shifted[i] = f
	}
	schema, err := NewSchema(shifted...)
	require.NoError(t, err)

	dev := storage.NewMemoryDevice(16)
	store, err := NewStore(dev, WithSchema(schema))
	require.NoError(t, err)

	require.NoError(t, store.WriteMirror(true))
	assert.Equal(t, byte(1), dev.Bytes()[15])
	assert.Equal(t, byte(0), dev.Bytes()[5])
}

func TestStore_Raw(t *testing.T) {
	dev := storage.NewMemoryDeviceFrom([]byte{4, 7, 10, 20, 30, 1, 99})
	store, err := NewStore(dev)
	require.NoError(t, err)

	raw, err := store.Raw()
	assert.NoError(t, err)
	assert.Equal(t, []byte{4, 7, 10, 20, 30, 1}, raw, "only the schema bytes are dumped")
}
