package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bend5x/pkg/errors"
)

func TestParseStringSectionsAndOptions(t *testing.T) {
	f, err := ParseString(`
# machine profile
[spline]
x_start: 100.0
x_end = 200.0

[emitter]
stepper: rotary_b  ; inline comment
`)
	if err != nil {
		t.Fatalf("ParseString failed: %v", err)
	}

	v, err := f.Section("spline").GetFloat("x_start", 0)
	if err != nil || v != 100.0 {
		t.Errorf("x_start = %v, %v; want 100.0", v, err)
	}
	v, err = f.Section("spline").GetFloat("x_end", 0)
	if err != nil || v != 200.0 {
		t.Errorf("x_end = %v, %v; want 200.0", v, err)
	}
	if got := f.Section("emitter").Get("stepper", ""); got != "rotary_b" {
		t.Errorf("stepper = %q; want rotary_b", got)
	}
}

func TestParseStringErrors(t *testing.T) {
	cases := []string{
		"x_start: 1.0\n",            // option before section
		"[spline]\nnot an option\n", // no separator
		"[]\n",                      // empty header
	}
	for _, src := range cases {
		if _, err := ParseString(src); err == nil {
			t.Errorf("ParseString(%q) succeeded; want error", src)
		}
	}
}

func TestSectionFallbacks(t *testing.T) {
	f, err := ParseString("[bend]\nlayer_height: 0.2\n")
	if err != nil {
		t.Fatal(err)
	}

	v, err := f.Section("bend").GetFloat("layer_height", 0.28)
	if err != nil || v != 0.2 {
		t.Errorf("layer_height = %v, %v; want 0.2", v, err)
	}
	v, err = f.Section("bend").GetFloat("warning_angle", 100)
	if err != nil || v != 100 {
		t.Errorf("warning_angle fallback = %v, %v; want 100", v, err)
	}
	if got := f.Section("missing").Get("opt", "dflt"); got != "dflt" {
		t.Errorf("missing section Get = %q; want dflt", got)
	}
}

func TestGetFloatRejectsGarbage(t *testing.T) {
	f, err := ParseString("[bend]\nlayer_height: thick\n")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Section("bend").GetFloat("layer_height", 0.28); err == nil {
		t.Error("GetFloat accepted a non-numeric value")
	}
}

func TestGetBool(t *testing.T) {
	f, err := ParseString("[printer]\na: yes\nb: off\nc: maybe\n")
	if err != nil {
		t.Fatal(err)
	}
	sec := f.Section("printer")
	if v, err := sec.GetBool("a", false); err != nil || !v {
		t.Errorf("a = %v, %v; want true", v, err)
	}
	if v, err := sec.GetBool("b", true); err != nil || v {
		t.Errorf("b = %v, %v; want false", v, err)
	}
	if _, err := sec.GetBool("c", false); err == nil {
		t.Error("GetBool accepted 'maybe'")
	}
}

func TestCheckUnusedOptions(t *testing.T) {
	f, err := ParseString("[spline]\nx_start: 1\nx_stat: 2\n")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Section("spline").GetFloat("x_start", 0); err != nil {
		t.Fatal(err)
	}
	err = f.CheckUnusedOptions()
	if err == nil {
		t.Fatal("CheckUnusedOptions missed the typo'd option")
	}
	if !strings.Contains(err.Error(), "x_stat") {
		t.Errorf("error does not name the unused option: %v", err)
	}
}

func TestDefaultParamsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("production defaults invalid: %v", err)
	}
}

func TestFromFileOverridesAndDefaults(t *testing.T) {
	f, err := ParseString(`
[spline]
x_start: 110
x_end: 190

[bend]
layer_height: 0.2

[emitter]
stepper: rotary_b
`)
	if err != nil {
		t.Fatal(err)
	}
	p, err := FromFile(f)
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}

	if p.SplineXStart != 110 || p.SplineXEnd != 190 {
		t.Errorf("spline anchors = %v..%v; want 110..190", p.SplineXStart, p.SplineXEnd)
	}
	if p.LayerHeight != 0.2 {
		t.Errorf("LayerHeight = %v; want 0.2", p.LayerHeight)
	}
	if p.Stepper != "rotary_b" {
		t.Errorf("Stepper = %q; want rotary_b", p.Stepper)
	}
	// Untouched options keep production defaults.
	if p.La != DefaultLa || p.Lb != DefaultLb {
		t.Errorf("linkage = %v, %v; want defaults", p.La, p.Lb)
	}
	if p.EndSlope != DefaultEndSlope {
		t.Errorf("EndSlope = %v; want %v", p.EndSlope, DefaultEndSlope)
	}
}

func TestFromFileRejectsUnknownOption(t *testing.T) {
	f, err := ParseString("[spline]\nx_begin: 110\n")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := FromFile(f); err == nil {
		t.Fatal("FromFile accepted an unknown option")
	}
}

func TestFromFileRejectsInvalidGeometry(t *testing.T) {
	f, err := ParseString("[spline]\nz_start: 100\nz_end: 0\n")
	if err != nil {
		t.Fatal(err)
	}
	_, err = FromFile(f)
	if err == nil {
		t.Fatal("FromFile accepted an empty height range")
	}
	if !errors.IsCode(err, errors.ErrConfigValidation) {
		t.Errorf("wrong error code: %v", err)
	}
}

func TestLoadFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bend5x.cfg")
	data := "[kinematics]\nla: 30\nlb: 50\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.La != 30 || p.Lb != 50 {
		t.Errorf("linkage = %v, %v; want 30, 50", p.La, p.Lb)
	}

	if _, err := Load(filepath.Join(dir, "missing.cfg")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}
