package session

// EffectKind names a presentation side effect
type EffectKind string

// Effect kinds
const (
	EffectConfetti EffectKind = "confetti"
	EffectSound    EffectKind = "sound"
)

// Sound cues
const (
	SoundClick  = "click"
	SoundReward = "reward"
)

// Confetti palettes
var (
	PaletteLogin   = []string{"#22c55e", "#a855f7", "#38bdf8"}
	PaletteMission = []string{"#22c55e", "#f59e0b", "#a855f7"}
	PaletteReward  = []string{"#f472b6", "#38bdf8", "#facc15"}
)

// Effect is a best-effort celebration cue. The machine only describes it;
// playing it is up to the client and never feeds back into state
type Effect struct {
	Kind    EffectKind `json:"kind"`
	Palette []string   `json:"palette,omitempty"`
	Sound   string     `json:"sound,omitempty"`
}

func (m *Machine) effects(palette []string, sound string) []Effect {
	var out []Effect
	if palette != nil {
		out = append(out, Effect{Kind: EffectConfetti, Palette: append([]string(nil), palette...)})
	}
	if sound != "" && m.soundEnabled {
		out = append(out, Effect{Kind: EffectSound, Sound: sound})
	}
	return out
}
