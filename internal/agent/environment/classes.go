package environment

import (
	"encoding/hex"
	"image/color"
	"strings"
)

// DefaultPalette colors classes when the environment does not.
var DefaultPalette = []string{
	"#4892EA",
	"#00EEC3",
	"#FE4EF0",
	"#F4004E",
	"#FA7200",
	"#EEEE17",
	"#90FF00",
	"#78C1D2",
	"#8C29FF",
}

// FallbackColor is used for classes missing from the color map and for
// colors that are not #RRGGBB.
const FallbackColor = "#4892EA"

// ClassRegistry holds class names in class-index order and their colors.
type ClassRegistry struct {
	names  []string
	colors map[string]string
}

func newClassRegistry(names []string, colors map[string]string) *ClassRegistry {
	return &ClassRegistry{names: names, colors: colors}
}

// Names returns class names indexed by class id.
func (r *ClassRegistry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *ClassRegistry) Len() int {
	return len(r.names)
}

// Name returns the class name of index i, or "" when out of range.
func (r *ClassRegistry) Name(i int) string {
	if i < 0 || i >= len(r.names) {
		return ""
	}
	return r.names[i]
}

// Color returns the hex color of class name.
func (r *ClassRegistry) Color(name string) string {
	if c, ok := r.colors[name]; ok {
		return c
	}
	return FallbackColor
}

// Colors returns a copy of the class to color mapping.
func (r *ClassRegistry) Colors() map[string]string {
	out := make(map[string]string, len(r.colors))
	for k, v := range r.colors {
		out[k] = v
	}
	return out
}

// RGB decodes the color of class name.
func (r *ClassRegistry) RGB(name string) color.RGBA {
	if c, ok := parseHex(r.Color(name)); ok {
		return c
	}
	c, _ := parseHex(FallbackColor)
	return c
}

func parseHex(s string) (color.RGBA, bool) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.RGBA{}, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return color.RGBA{}, false
	}
	return color.RGBA{R: b[0], G: b[1], B: b[2], A: 0xff}, true
}
