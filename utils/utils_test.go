package utils

import (
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUtils_MinMax(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(2, Min(2, 5))
	assert.Equal(2, Min(5, 2))
	assert.Equal(5, Max(2, 5))
	assert.Equal(1.5, Max(-1.0, 1.5))
	assert.Equal(3, Abs(-3))
	assert.Equal(10, Clamp(12, 0, 10))
	assert.Equal(0, Clamp(-4, 0, 10))
}

func TestUtils_FormatTime(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("1.50s", FormatTime(1500*time.Millisecond))
	assert.Equal("2m 5.00s", FormatTime(2*time.Minute+5*time.Second))
	assert.Equal("1h 1m 1.00s", FormatTime(time.Hour+time.Minute+time.Second))
}

func TestUtils_DecorateText(t *testing.T) {
	SetColor(false)
	assert.Equal(t, "done", DecorateText("done", SuccessMessage))

	SetColor(true)
	defer SetColor(false)
	assert.Equal(t, SuccessColor+"done"+DefaultColor, DecorateText("done", SuccessMessage))
}

func TestUtils_ParseColor(t *testing.T) {
	assert := assert.New(t)

	c, err := ParseColor("red")
	assert.NoError(err)
	assert.Equal(color.NRGBA{R: 0xff, A: 0xff}, c)

	c, err = ParseColor("#00ff80")
	assert.NoError(err)
	assert.Equal(color.NRGBA{G: 0xff, B: 0x80, A: 0xff}, c)

	c, err = ParseColor("0f0")
	assert.NoError(err)
	assert.Equal(color.NRGBA{G: 0xff, A: 0xff}, c)

	_, err = ParseColor("not-a-color")
	assert.Error(err)
}
