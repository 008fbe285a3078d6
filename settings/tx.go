package settings

import (
	"fmt"

	"lautenbacher.net/clockpanel/storage"
)

// Tx is a batch of reads and writes against one open region. Reads see
// the batch's own uncommitted writes.
type Tx struct {
	region  storage.Region
	schema  *Schema
	written []fieldValue
}

func (tx *Tx) set(name string, value uint8) error {
	f, ok := tx.schema.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown field %q", name)
	}
	if err := tx.region.SetByteAt(f.Offset, value); err != nil {
		return err
	}
	tx.written = append(tx.written, fieldValue{name, value})
	return nil
}

func (tx *Tx) get(name string) (uint8, error) {
	f, ok := tx.schema.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("unknown field %q", name)
	}
	return tx.region.ByteAt(f.Offset)
}

func (tx *Tx) SetMainAnimationID(id uint8) error {
	return tx.set(FieldMainAnimation, id)
}

func (tx *Tx) SetSeparatorAnimationID(id uint8) error {
	return tx.set(FieldSeparatorAnimation, id)
}

func (tx *Tx) SetColor(color RgbColor) error {
	if err := tx.set(FieldColorRed, color.R); err != nil {
		return err
	}
	if err := tx.set(FieldColorGreen, color.G); err != nil {
		return err
	}
	return tx.set(FieldColorBlue, color.B)
}

func (tx *Tx) SetMirror(flag bool) error {
	return tx.set(FieldMirror, boolByte(flag))
}

func (tx *Tx) SetSettings(settings Settings) error {
	if err := tx.SetMainAnimationID(settings.MainAnimationID); err != nil {
		return err
	}
	if err := tx.SetSeparatorAnimationID(settings.SeparatorAnimationID); err != nil {
		return err
	}
	if err := tx.SetColor(settings.Color); err != nil {
		return err
	}
	return tx.SetMirror(settings.Mirror)
}

func (tx *Tx) MainAnimationID() (uint8, error) {
	return tx.get(FieldMainAnimation)
}

func (tx *Tx) SeparatorAnimationID() (uint8, error) {
	return tx.get(FieldSeparatorAnimation)
}

func (tx *Tx) Mirror() (bool, error) {
	v, err := tx.get(FieldMirror)
	return v != 0, err
}

func (tx *Tx) Color() (RgbColor, error) {
	var c RgbColor
	var err error
	if c.R, err = tx.get(FieldColorRed); err != nil {
		return RgbColor{}, err
	}
	if c.G, err = tx.get(FieldColorGreen); err != nil {
		return RgbColor{}, err
	}
	if c.B, err = tx.get(FieldColorBlue); err != nil {
		return RgbColor{}, err
	}
	return c, nil
}

// Settings reads the complete record.
func (tx *Tx) Settings() (Settings, error) {
	var ret Settings
	var err error
	if ret.MainAnimationID, err = tx.MainAnimationID(); err != nil {
		return Settings{}, err
	}
	if ret.SeparatorAnimationID, err = tx.SeparatorAnimationID(); err != nil {
		return Settings{}, err
	}
	if ret.Color, err = tx.Color(); err != nil {
		return Settings{}, err
	}
	if ret.Mirror, err = tx.Mirror(); err != nil {
		return Settings{}, err
	}
	return ret, nil
}
