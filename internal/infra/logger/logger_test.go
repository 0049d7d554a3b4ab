package logger

import (
	"log/slog"
	"testing"
)

func TestNewByEnv(t *testing.T) {
	for _, env := range []string{"dev", "prod", ""} {
		log, sync, err := New(env)
		if err != nil {
			t.Fatalf("env %q: %v", env, err)
		}
		log.Info("logger ready", "env", env)
		sync()
	}

	log, sync, _ := New("prod")
	defer sync()
	if log.Enabled(t.Context(), slog.LevelDebug) {
		t.Fatalf("debug must be disabled in prod")
	}
}
