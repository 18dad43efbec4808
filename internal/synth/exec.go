package synth

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/narrately/narrate-core/internal/config"
)

// execSynth shells out to a local engine (piper-style): tagged text on
// stdin, raw 16-bit PCM on stdout. Calls are serialized because the engine
// is assumed to own a single GPU.
type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
	timeout    time.Duration
	mu         sync.Mutex
}

func NewExecSynth(cfg config.SynthConfig) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}
	return &execSynth{
		cmd:        args,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		timeout:    time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	if req.Speaker != "" {
		args = append(args, "--speaker", req.Speaker)
	}

	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = strings.NewReader(req.Text)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("synth command failed: %w: %s", err, stderr.String())
	}
	return pcmToWAV(stdout.Bytes(), e.sampleRate, e.channels)
}
