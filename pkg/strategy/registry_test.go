package strategy

import (
	"testing"

	"github.com/algomatic/dslbacktest/pkg/dsl"
)

func TestBuiltinPresetsRegistered(t *testing.T) {
	if got, want := Count(), len(builtinPresets()); got != want {
		t.Errorf("expected %d registered presets, got %d", want, got)
	}
	for _, name := range []string{"sma_trend", "rsi_reversion", "golden_cross", "breakout_20"} {
		if GetByName(name) == nil {
			t.Errorf("preset %q not registered", name)
		}
	}
}

func TestPresetsParseAndValidate(t *testing.T) {
	for _, p := range GetAll() {
		t.Run(p.Name, func(t *testing.T) {
			script, err := p.Script()
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if script.Entry == nil || script.Exit == nil {
				t.Error("every preset should define both entry and exit")
			}
			if errs := dsl.Validate(script); len(errs) > 0 {
				t.Errorf("validation errors: %v", errs)
			}
		})
	}
}

func TestPresetFieldsPopulated(t *testing.T) {
	ids := make(map[int]bool)
	for _, p := range GetAll() {
		if ids[p.ID] {
			t.Errorf("duplicate preset ID %d", p.ID)
		}
		ids[p.ID] = true
		if p.DisplayName == "" || p.Philosophy == "" || p.Category == "" || len(p.Tags) == 0 {
			t.Errorf("preset %s has empty metadata", p.Name)
		}
	}
}

func TestGetByID(t *testing.T) {
	p := Get(1)
	if p == nil || p.Name != "sma_trend" {
		t.Fatalf("Get(1) = %+v, want sma_trend", p)
	}
	if Get(999) != nil {
		t.Error("expected nil for non-existent preset ID")
	}
	if GetByName("nonexistent") != nil {
		t.Error("expected nil for non-existent preset name")
	}
}

func TestGetAllSorted(t *testing.T) {
	all := GetAll()
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Errorf("presets not sorted by ID: %d <= %d at index %d", all[i].ID, all[i-1].ID, i)
		}
	}
}

func TestGetByCategory(t *testing.T) {
	trend := GetByCategory("trend")
	if len(trend) != 3 {
		t.Errorf("expected 3 trend presets, got %d", len(trend))
	}
	if len(GetByCategory("nonexistent")) != 0 {
		t.Error("expected no presets for unknown category")
	}
}

func TestRegisterAndClear(t *testing.T) {
	defer func() {
		Clear()
		RegisterAll(builtinPresets())
	}()

	Register(&Preset{ID: 100, Name: "custom", DSL: "ENTRY: close > 1"})
	if p := GetByName("custom"); p == nil || p.ID != 100 {
		t.Fatalf("custom preset not registered: %+v", p)
	}
	Clear()
	if Count() != 0 {
		t.Errorf("expected empty registry after Clear, got %d", Count())
	}
}

func TestPresetScriptError(t *testing.T) {
	p := &Preset{Name: "broken", DSL: "close > 1"}
	if _, err := p.Script(); err == nil {
		t.Error("expected parse error")
	}
}
