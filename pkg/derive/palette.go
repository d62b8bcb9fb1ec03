package derive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
)

// Color is a linear RGB triple with channels in [0,1].
type Color struct {
	R, G, B float32
}

// ParseHex parses "#RRGGBB" or "RRGGBB".
func ParseHex(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return Color{}, fmt.Errorf("color %q: expected 6 hex digits", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("color %q: %w", s, err)
	}
	return Color{
		R: float32((v>>16)&0xff) / 255,
		G: float32((v>>8)&0xff) / 255,
		B: float32(v&0xff) / 255,
	}, nil
}

// MustHex is ParseHex for compile-time constants.
func MustHex(s string) Color {
	c, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Hex formats the color as "#rrggbb".
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", channel(c.R), channel(c.G), channel(c.B))
}

func channel(f float32) uint8 {
	return uint8(math32.Round(clamp01(f) * 255))
}

func clamp01(f float32) float32 {
	return math32.Max(0, math32.Min(1, f))
}

// Palette fixes the colors and layer opacities of derived geometry.
type Palette struct {
	BaseA     Color
	BaseB     Color
	Match     Color
	NonMatchA Color
	NonMatchB Color
	MatchOnly Color

	OverlayOpacity   float32
	MatchOnlyOpacity float32
}

// DefaultPalette is red for A, blue for B and light green for matches.
func DefaultPalette() Palette {
	return Palette{
		BaseA:            MustHex("#ff4444"),
		BaseB:            MustHex("#4444ff"),
		Match:            Color{R: 0.4, G: 1, B: 0.4},
		NonMatchA:        Color{R: 1, G: 0.267, B: 0.267},
		NonMatchB:        Color{R: 0.267, G: 0.267, B: 1},
		MatchOnly:        MustHex("#66ff66"),
		OverlayOpacity:   0.8,
		MatchOnlyOpacity: 0.2,
	}
}

// Distance is the Euclidean distance between two colors in RGB space.
func (c Color) Distance(o Color) float32 {
	dr, dg, db := c.R-o.R, c.G-o.G, c.B-o.B
	return math32.Sqrt(dr*dr + dg*dg + db*db)
}

// minColorDistance keeps overlay colors tellable apart.
const minColorDistance = 0.1

// Validate rejects opacities outside [0,1] and overlay colors too close to
// distinguish.
func (p Palette) Validate() error {
	if p.NonMatchA.Distance(p.NonMatchB) < minColorDistance {
		return fmt.Errorf("non-match colors for A (%s) and B (%s) are indistinguishable", p.NonMatchA.Hex(), p.NonMatchB.Hex())
	}
	for _, c := range []Color{p.NonMatchA, p.NonMatchB} {
		if c.Distance(p.Match) < minColorDistance {
			return fmt.Errorf("non-match color %s is indistinguishable from match color %s", c.Hex(), p.Match.Hex())
		}
	}
	if p.OverlayOpacity < 0 || p.OverlayOpacity > 1 {
		return fmt.Errorf("overlay opacity %.3f outside [0,1]", p.OverlayOpacity)
	}
	if p.MatchOnlyOpacity < 0 || p.MatchOnlyOpacity > 1 {
		return fmt.Errorf("match-only opacity %.3f outside [0,1]", p.MatchOnlyOpacity)
	}
	return nil
}
