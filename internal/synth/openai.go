package synth

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/narrately/narrate-core/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

// openaiSynth uses the OpenAI speech endpoint as a cloud backend. The
// response format is WAV so the combiner can stitch it directly.
type openaiSynth struct {
	client  *openai.Client
	model   openai.SpeechModel
	voice   openai.SpeechVoice
	timeout time.Duration
}

func NewOpenAISynth(cfg config.SynthConfig) (Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("synth api_key required for openai mode")
	}
	model := openai.SpeechModel(cfg.Model)
	if model == "" {
		model = openai.TTSModel1
	}
	voice := openai.SpeechVoice(cfg.Voice)
	if voice == "" {
		voice = openai.VoiceAlloy
	}
	return &openaiSynth{
		client:  openai.NewClient(cfg.APIKey),
		model:   model,
		voice:   voice,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}, nil
}

func (o *openaiSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          req.Text,
		Voice:          o.voice,
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request: %w", err)
	}
	defer resp.Close()

	return io.ReadAll(resp)
}
