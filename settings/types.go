package settings

import "fmt"

// RgbColor is the color the animation engine paints with. It is stored
// as three independent bytes.
type RgbColor struct {
	R uint8 `json:"red"`
	G uint8 `json:"green"`
	B uint8 `json:"blue"`
}

func (c RgbColor) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Settings is the whole persisted record as seen by callers.
type Settings struct {
	MainAnimationID      uint8    `json:"animation"`
	SeparatorAnimationID uint8    `json:"separator"`
	Color                RgbColor `json:"color"`
	Mirror               bool     `json:"mirror"`
}
