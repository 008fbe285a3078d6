package settings

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lautenbacher.net/clockpanel/storage"
	"lautenbacher.net/clockpanel/util"
)

// Store maps the named settings fields onto a persistent region.
//
// By default every operation is a self contained cycle: open the region,
// read or write, commit (writes only) and close. Cycles never interleave;
// the store serialises them so it may be shared between goroutines.
type Store struct {
	device   storage.Device
	schema   *Schema
	mu       sync.Mutex
	keepOpen bool
	region   storage.Region
	journal  *Journal
	changes  *util.Latest[Change]
	now      func() time.Time
}

// Option configures a Store in NewStore.
type Option func(*Store)

// WithSchema replaces the default layout. The schema must contain the
// six settings fields, each one byte wide.
func WithSchema(schema *Schema) Option {
	return func(s *Store) {
		s.schema = schema
	}
}

// WithPersistentRegion opens the region once on first use and keeps it
// open until Close. Writes are still committed one by one.
func WithPersistentRegion() Option {
	return func(s *Store) {
		s.keepOpen = true
	}
}

// WithJournal records every committed write in j.
func WithJournal(j *Journal) Option {
	return func(s *Store) {
		s.journal = j
	}
}

// NewStore creates a store on device using the default layout unless
// WithSchema says otherwise.
func NewStore(device storage.Device, opts ...Option) (*Store, error) {
	s := &Store{
		device:  device,
		schema:  DefaultSchema(),
		changes: util.NewLatest[Change](),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.schema.requireBytes(FieldMainAnimation, FieldSeparatorAnimation,
		FieldColorRed, FieldColorGreen, FieldColorBlue, FieldMirror); err != nil {
		return nil, fmt.Errorf("invalid settings schema: %w", err)
	}
	return s, nil
}

// Schema returns the layout the store addresses.
func (s *Store) Schema() *Schema {
	return s.schema
}

// Journal returns the write journal, nil when none is configured.
func (s *Store) Journal() *Journal {
	return s.journal
}

// Changes publishes the latest committed write.
func (s *Store) Changes() *util.Latest[Change] {
	return s.changes
}

func (s *Store) WriteMainAnimationID(id uint8) error {
	return s.write("write main animation", fieldValue{FieldMainAnimation, id})
}

func (s *Store) WriteSeparatorAnimationID(id uint8) error {
	return s.write("write separator animation", fieldValue{FieldSeparatorAnimation, id})
}

// WriteColor stores red, green and blue in that order, committing after
// each byte. An interrupted sequence may leave a mixed color behind.
func (s *Store) WriteColor(color RgbColor) error {
	return s.write("write color",
		fieldValue{FieldColorRed, color.R},
		fieldValue{FieldColorGreen, color.G},
		fieldValue{FieldColorBlue, color.B},
	)
}

// WriteMirror stores exactly 1 for true and 0 for false.
func (s *Store) WriteMirror(flag bool) error {
	return s.write("write mirror", fieldValue{FieldMirror, boolByte(flag)})
}

func (s *Store) ReadMainAnimationID() (uint8, error) {
	v, err := s.read("read main animation", FieldMainAnimation)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (s *Store) ReadSeparatorAnimationID() (uint8, error) {
	v, err := s.read("read separator animation", FieldSeparatorAnimation)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// ReadMirror is true iff the stored byte is non-zero.
func (s *Store) ReadMirror() (bool, error) {
	v, err := s.read("read mirror", FieldMirror)
	if err != nil {
		return false, err
	}
	return v[0] != 0, nil
}

func (s *Store) ReadColor() (RgbColor, error) {
	v, err := s.read("read color", FieldColorRed, FieldColorGreen, FieldColorBlue)
	if err != nil {
		return RgbColor{}, err
	}
	return RgbColor{R: v[0], G: v[1], B: v[2]}, nil
}

// Snapshot reads the whole record in a single cycle.
func (s *Store) Snapshot() (Settings, error) {
	var ret Settings
	err := s.withRegion("snapshot", func(region storage.Region) error {
		tx := &Tx{region: region, schema: s.schema}
		var err error
		ret, err = tx.Settings()
		return err
	})
	return ret, err
}

// Raw returns the region bytes covered by the schema, as stored.
func (s *Store) Raw() ([]byte, error) {
	ret := make([]byte, s.schema.Size())
	err := s.withRegion("raw dump", func(region storage.Region) error {
		for i := range ret {
			v, err := region.ByteAt(i)
			if err != nil {
				return err
			}
			ret[i] = v
		}
		return nil
	})
	return ret, err
}

// Update runs fn against one open region and commits everything fn
// wrote in a single commit. Nothing is committed if fn fails.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.withRegion("update", func(region storage.Region) error {
		tx := &Tx{region: region, schema: s.schema}
		if err := fn(tx); err != nil {
			return err
		}
		if len(tx.written) == 0 {
			return nil
		}
		if err := region.Commit(); err != nil {
			return err
		}
		for _, fv := range tx.written {
			s.committed(fv)
		}
		slog.Debug("Settings batch committed", "fields", len(tx.written))
		return nil
	})
}

// Provision writes every field of settings in one batch.
func (s *Store) Provision(settings Settings) error {
	return s.Update(func(tx *Tx) error {
		return tx.SetSettings(settings)
	})
}

// Close releases the region held open by WithPersistentRegion.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release()
}

type fieldValue struct {
	name  string
	value uint8
}

func boolByte(flag bool) uint8 {
	if flag {
		return 1
	}
	return 0
}

func (s *Store) write(op string, values ...fieldValue) error {
	return s.withRegion(op, func(region storage.Region) error {
		for _, fv := range values {
			f, _ := s.schema.Lookup(fv.name)
			if err := region.SetByteAt(f.Offset, fv.value); err != nil {
				return err
			}
			if err := region.Commit(); err != nil {
				return err
			}
			s.committed(fv)
		}
		return nil
	})
}

func (s *Store) read(op string, names ...string) ([]uint8, error) {
	ret := make([]uint8, len(names))
	err := s.withRegion(op, func(region storage.Region) error {
		for i, name := range names {
			f, _ := s.schema.Lookup(name)
			v, err := region.ByteAt(f.Offset)
			if err != nil {
				return err
			}
			ret[i] = v
		}
		return nil
	})
	return ret, err
}

func (s *Store) committed(fv fieldValue) {
	change := Change{Field: fv.name, Value: fv.value, Time: s.now()}
	slog.Debug("Settings field committed", "field", fv.name, "value", fv.value)
	s.journal.record(change)
	s.changes.Publish(change)
}

// withRegion runs fn on an open region. A failed cycle drops a
// persistent region so uncommitted bytes never leak into later reads.
func (s *Store) withRegion(op string, fn func(storage.Region) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	region := s.region
	if region == nil {
		region, err = s.device.Open(s.schema.Size())
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if s.keepOpen {
			s.region = region
		}
	}

	err = fn(region)

	if s.keepOpen {
		if err != nil {
			if cerr := s.release(); cerr != nil {
				slog.Warn("Failed to close region after error", "op", op, "error", cerr)
			}
		}
	} else if cerr := region.Close(); cerr != nil && err == nil {
		err = cerr
	}

	if err != nil {
		slog.Error("Settings storage cycle failed", "op", op, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) release() error {
	if s.region == nil {
		return nil
	}
	err := s.region.Close()
	s.region = nil
	return err
}
