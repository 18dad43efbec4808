package synth

import (
	"context"
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns a backend that produces silence sized to the text,
// for development and tests.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// 20ms of silence per character, minimum 100ms
	ms := 20 * len([]rune(req.Text))
	if ms < 100 {
		ms = 100
	}
	samples := m.sampleRate * ms / 1000 * m.channels
	return pcmToWAV(make([]byte, samples*2), m.sampleRate, m.channels)
}
