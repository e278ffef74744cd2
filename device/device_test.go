package device

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevice_DecodeTolerant(t *testing.T) {
	raw := `{
		"id": 12345,
		"details": {"name": "Whiskers", "image": "cat.png"},
		"lastPos": {"posLat": 51.5, "posLong": -0.12, "acc": 8.5, "sat": 7},
		"bat": 4100,
		"led": false,
		"buz": true,
		"home": true,
		"chg": false,
		"sw": "2.1.0",
		"hw": 3,
		"lastContact": 1725100000,
		"mode": 2,
		"someFutureField": {"nested": true}
	}`

	var d Device
	require.NoError(t, json.Unmarshal([]byte(raw), &d))

	assert.Equal(t, int64(12345), d.ID)
	assert.Equal(t, "12345", d.Key())
	assert.Equal(t, "Whiskers", d.Name())
	require.NotNil(t, d.LastPos)
	assert.Equal(t, 51.5, *d.LastPos.Latitude)
	assert.Equal(t, 7, *d.LastPos.Satellites)
	require.NotNil(t, d.Battery)
	assert.Equal(t, 4100, *d.Battery)
	assert.Equal(t, FlexString("3"), d.HWVersion)
	assert.Equal(t, FlexString("1725100000"), d.LastContact)
	assert.Equal(t, int64(1725100000), d.LastContactTime().Unix())

	mode, ok := d.CurrentMode()
	require.True(t, ok)
	assert.Equal(t, ModeNormal, mode)

	// Fields absent from the document stay nil
	assert.Nil(t, d.AccuWarn)
	assert.Nil(t, d.CmdNr)
}

func TestDevice_NameFallback(t *testing.T) {
	d := Device{ID: 42}
	assert.Equal(t, "Pet 42", d.Name())
}

func TestDevice_MergeOverwritesOnlyPresentFields(t *testing.T) {
	bat := 3900
	led := true
	lat := 51.5
	existing := &Device{
		ID:      7,
		Battery: &bat,
		LED:     &led,
		LastPos: &Position{Latitude: &lat},
	}

	newBat := 4000
	existing.Merge(&Device{ID: 7, Battery: &newBat})

	assert.Equal(t, 4000, *existing.Battery)
	assert.True(t, *existing.LED, "untouched field survives merge")
	assert.Equal(t, 51.5, *existing.LastPos.Latitude)
}

func TestDevice_MergeNestedPosition(t *testing.T) {
	lat, long, acc := 51.5, -0.12, 10.0
	existing := &Device{
		ID:      7,
		LastPos: &Position{Latitude: &lat, Longitude: &long, Accuracy: &acc},
	}

	newLat := 51.6
	existing.Merge(&Device{ID: 7, LastPos: &Position{Latitude: &newLat}})

	assert.Equal(t, 51.6, *existing.LastPos.Latitude)
	assert.Equal(t, -0.12, *existing.LastPos.Longitude)
	assert.Equal(t, 10.0, *existing.LastPos.Accuracy)
}

func TestDevice_CloneIsDeep(t *testing.T) {
	bat := 4000
	d := &Device{ID: 9, Battery: &bat, Details: &Details{Name: "Mittens"}}

	clone := d.Clone()
	*clone.Battery = 3000
	clone.Details.Name = "Changed"

	assert.Equal(t, 4000, *d.Battery)
	assert.Equal(t, "Mittens", d.Details.Name)
}

func TestPosition_GPSAccuracyFallback(t *testing.T) {
	acc, hori := 5.0, 12.0

	p := &Position{Accuracy: &acc, HoriPrec: &hori}
	assert.Equal(t, 5.0, *p.GPSAccuracy())

	p = &Position{HoriPrec: &hori}
	assert.Equal(t, 12.0, *p.GPSAccuracy())

	p = &Position{}
	assert.Nil(t, p.GPSAccuracy())
}

func TestDevice_ImageURL(t *testing.T) {
	d := Device{ID: 1, Details: &Details{Img: "tabby.png"}}
	assert.Equal(t, "https://portal.pettracer.com/api/image/tabby.png",
		d.ImageURL("https://portal.pettracer.com/api"))

	d = Device{ID: 1}
	assert.Equal(t, "", d.ImageURL("https://portal.pettracer.com/api"))
}

func TestMode_Roundtrip(t *testing.T) {
	for _, mode := range Modes() {
		name := mode.String()
		require.NotEmpty(t, name)

		back, ok := ModeFromName(name)
		require.True(t, ok)
		assert.Equal(t, mode, back)
	}

	_, ok := ModeFromName("Turbo")
	assert.False(t, ok)
	assert.False(t, Mode(99).Valid())
}

func TestBatteryPercent_CurvePoints(t *testing.T) {
	points := map[int]int{
		3000: 0,
		3600: 17,
		3760: 34,
		3840: 50,
		3900: 67,
		4000: 83,
		4150: 100,
	}
	for mv, want := range points {
		assert.Equal(t, want, BatteryPercent(mv), "mv=%d", mv)
	}
}

func TestBatteryPercent_MonotonicAndClamped(t *testing.T) {
	prev := -1
	for mv := 2900; mv <= 4300; mv += 10 {
		pct := BatteryPercent(mv)
		assert.GreaterOrEqual(t, pct, prev, "curve must be non-decreasing at %dmv", mv)
		assert.GreaterOrEqual(t, pct, 0)
		assert.LessOrEqual(t, pct, 100)
		prev = pct
	}

	assert.Equal(t, 0, BatteryPercent(1))
	assert.Equal(t, 100, BatteryPercent(9000))
}

func TestDevice_BatteryPercentOf(t *testing.T) {
	d := Device{ID: 3}
	_, ok := d.BatteryPercentOf()
	assert.False(t, ok)

	mv := 4150
	d.Battery = &mv
	pct, ok := d.BatteryPercentOf()
	require.True(t, ok)
	assert.Equal(t, 100, pct)
}
