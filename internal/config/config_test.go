package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Synth.Mode != "mock" {
		t.Fatalf("expected mock synth mode, got %q", cfg.Synth.Mode)
	}
	if cfg.Segment.MaxChunkBytes != 500 {
		t.Fatalf("expected 500 byte chunk default, got %d", cfg.Segment.MaxChunkBytes)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NARRATE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("NARRATE_BUS_EMBEDDED", "false")
	t.Setenv("NARRATE_SYNTH_MODE", "http")
	t.Setenv("NARRATE_SYNTH_ENDPOINT", "http://localhost:5002")
	t.Setenv("NARRATE_SYNTH_VOICE", "leah")
	t.Setenv("NARRATE_SEGMENT_DEFAULT_SPEAKER", "leah")
	t.Setenv("NARRATE_SEGMENT_SPEAKERS", "leah, marcus")
	t.Setenv("NARRATE_SEGMENT_MAX_CHUNK_BYTES", "800")
	t.Setenv("NARRATE_JOBS_MAX_JOBS", "32")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Synth.Mode != "http" || cfg.Synth.Endpoint != "http://localhost:5002" {
		t.Fatalf("expected synth override, got %+v", cfg.Synth)
	}
	if cfg.Synth.Voice != "leah" {
		t.Fatalf("expected voice override, got %q", cfg.Synth.Voice)
	}
	if cfg.Segment.DefaultSpeaker != "leah" {
		t.Fatalf("expected default speaker override")
	}
	if len(cfg.Segment.Speakers) != 2 || cfg.Segment.Speakers[1] != "marcus" {
		t.Fatalf("expected speakers override, got %v", cfg.Segment.Speakers)
	}
	if cfg.Segment.MaxChunkBytes != 800 {
		t.Fatalf("expected chunk bytes override, got %d", cfg.Segment.MaxChunkBytes)
	}
	if cfg.Jobs.MaxJobs != 32 {
		t.Fatalf("expected max jobs override, got %d", cfg.Jobs.MaxJobs)
	}
}

func TestValidateRejectsBadSynthMode(t *testing.T) {
	t.Setenv("NARRATE_SYNTH_MODE", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown synth mode")
	}
}

func TestValidateRequiresEndpointForHTTPMode(t *testing.T) {
	t.Setenv("NARRATE_SYNTH_MODE", "http")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for missing endpoint")
	}
}
