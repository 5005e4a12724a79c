package utils

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

var namedColors = map[string]color.NRGBA{
	"red":     {R: 0xff, A: 0xff},
	"green":   {G: 0x80, A: 0xff},
	"lime":    {G: 0xff, A: 0xff},
	"blue":    {B: 0xff, A: 0xff},
	"yellow":  {R: 0xff, G: 0xff, A: 0xff},
	"cyan":    {G: 0xff, B: 0xff, A: 0xff},
	"magenta": {R: 0xff, B: 0xff, A: 0xff},
	"orange":  {R: 0xff, G: 0xa5, A: 0xff},
	"black":   {A: 0xff},
	"white":   {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
}

// ParseColor converts a color name (e.g. "red") or a hex string (e.g. "#ff0000" or "f00")
// into a color.NRGBA.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	return HexToRGBA(s)
}

// HexToRGBA converts a color expressed as hexadecimal string to RGBA color.
func HexToRGBA(x string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(x, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", x)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", x)
	}
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xff,
	}, nil
}
