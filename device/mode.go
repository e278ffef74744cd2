package device

// Mode is a tracking mode command code.
type Mode int

// Tracking mode command codes, fixed by the service.
const (
	ModeFast       Mode = 1
	ModeNormal     Mode = 2
	ModeSlow       Mode = 3
	ModeSlowPlus   Mode = 7
	ModeFastPlus   Mode = 8
	ModeLive       Mode = 11
	ModeNormalPlus Mode = 14
)

var modeNames = map[Mode]string{
	ModeFast:       "Fast",
	ModeNormal:     "Normal",
	ModeSlow:       "Slow",
	ModeSlowPlus:   "Slow+",
	ModeFastPlus:   "Fast+",
	ModeLive:       "Live",
	ModeNormalPlus: "Normal+",
}

var modesByName = func() map[string]Mode {
	m := make(map[string]Mode, len(modeNames))
	for mode, name := range modeNames {
		m[name] = mode
	}
	return m
}()

// String returns the symbolic name for the mode, or empty for unknown codes.
func (m Mode) String() string {
	return modeNames[m]
}

// Valid reports whether the mode is a known command code.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// ModeFromName resolves a symbolic mode name to its command code.
func ModeFromName(name string) (Mode, bool) {
	m, ok := modesByName[name]
	return m, ok
}

// Modes returns all known modes in ascending command-code order.
func Modes() []Mode {
	return []Mode{ModeFast, ModeNormal, ModeSlow, ModeSlowPlus, ModeFastPlus, ModeLive, ModeNormalPlus}
}
