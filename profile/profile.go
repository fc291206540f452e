// package profile stores per-machine engraving settings as TOML files.
package profile

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Profile is the tuning of one engraver: the physical constants of the
// rasterization and the connection settings of the controller.
type Profile struct {
	// Scale is the beam diameter in millimeters, the size of one
	// raster cell.
	Scale float64 `toml:"scale"`
	// Threshold is the grayscale cutoff for binarization, 0-255.
	Threshold int `toml:"threshold"`
	// Power is the laser power for engraving moves, 0-255.
	Power int `toml:"power"`
	// Feed is the engraving feed rate in mm/min.
	Feed int `toml:"feed"`
	// Travel is the rapid travel speed in mm/min.
	Travel int `toml:"travel"`

	// Port is the serial device; empty selects the platform default.
	Port string `toml:"port"`
	Baud int    `toml:"baud"`
}

func Default() Profile {
	return Profile{
		Scale:     0.072,
		Threshold: 128,
		Power:     255,
		Feed:      1000,
		Travel:    3000,
		Baud:      115200,
	}
}

// Load reads a profile from path. Missing keys keep their defaults;
// unknown keys are ignored.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	p := Default()
	if err := toml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("profile: %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile: %s: %w", path, err)
	}
	return p, nil
}

func Save(path string, p Profile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first out-of-range setting. Load and Save run
// it; callers that override fields afterwards should too.
func (p Profile) Validate() error {
	if p.Scale <= 0 {
		return fmt.Errorf("scale %v must be positive", p.Scale)
	}
	if p.Threshold < 0 || p.Threshold > 255 {
		return fmt.Errorf("threshold %d out of range 0-255", p.Threshold)
	}
	if p.Power < 0 || p.Power > 255 {
		return fmt.Errorf("power %d out of range 0-255", p.Power)
	}
	if p.Feed <= 0 {
		return fmt.Errorf("feed %d must be positive", p.Feed)
	}
	if p.Travel <= 0 {
		return fmt.Errorf("travel %d must be positive", p.Travel)
	}
	return nil
}
