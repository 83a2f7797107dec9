package world

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigMoveStepLaw(t *testing.T) {
	for _, step := range []string{"1", "0.25"} {
		cfg, err := LoadConfig(writeConfig(t, "move_step: "+step+"\n"))
		if err != nil {
			t.Fatalf("move_step %s rejected: %v", step, err)
		}
		if !ValidStep(cfg.MoveStep) {
			t.Fatalf("loaded move_step %v fails the step law", cfg.MoveStep)
		}
	}
	if _, err := LoadConfig(writeConfig(t, "move_step: 0.3\n")); err == nil {
		t.Fatalf("move_step 0.3 accepted at load")
	}
}

func TestLoadConfigRejectsZeroDimensions(t *testing.T) {
	// applyDefaults treats <=0 as absent, so only a malformed explicit value
	// can reach Validate; drive Validate directly for the boundary.
	cfg := DefaultConfig()
	cfg.Width = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("negative width accepted")
	}
}

func TestLoadConfigFlatColorList(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "colors: [red, green]\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := strings.Join(cfg.Colors, ","); got != "red,green" {
		t.Fatalf("colors = %q, want red,green", got)
	}
}

func TestLoadConfigColorPaletteChoice(t *testing.T) {
	body := "seed: 7\ncolors:\n  - [red, green]\n  - [blue, yellow]\n"
	cfg, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := strings.Join(cfg.Colors, ",")
	if got != "red,green" && got != "blue,yellow" {
		t.Fatalf("colors = %q, want one whole palette", got)
	}

	// Same seed, same palette.
	again, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got2 := strings.Join(again.Colors, ","); got2 != got {
		t.Fatalf("palette choice not reproducible: %q then %q", got, got2)
	}
}

func TestLoadConfigAbsentColorsUseDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "width: 8\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Colors) != len(DefaultColors()) {
		t.Fatalf("colors = %v, want defaults", cfg.Colors)
	}
}

func TestLoadConfigRejectsMalformedColors(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "colors: 3\n")); err == nil {
		t.Fatalf("scalar colors accepted")
	}
}
