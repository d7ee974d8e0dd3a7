package threemf_test

import (
	"testing"

	"replate/internal/threemf"
)

func TestMatchPlateAsset(t *testing.T) {
	cases := []struct {
		name   string
		match  bool
		stem   string
		number int
		ext    string
	}{
		{"Metadata/plate_2.png", true, "plate", 2, ".png"},
		{"Metadata/plate_2.gcode", true, "plate", 2, ".gcode"},
		{"Metadata/plate_2.gcode.md5", true, "plate", 2, ".gcode.md5"},
		{"Metadata/plate_no_light_3.png", true, "plate_no_light", 3, ".png"},
		{"Metadata/top_10.png", true, "top", 10, ".png"},
		{"Metadata/pick_1.png", true, "pick", 1, ".png"},
		// Digits must sit immediately before the extension; the _small
		// thumbnails keep their original numbers and are only retargeted in
		// the documents that reference them.
		{"Metadata/plate_2_small.png", false, "", 0, ""},
		{"Metadata/plate.png", false, "", 0, ""},
		{"3D/plate_2.png", false, "", 0, ""},
		{"Metadata/plate_2", false, "", 0, ""},
		{"Metadata/nested/plate_2.png", true, "nested/plate", 2, ".png"},
		{"Metadata/plate_99999999999999999999999999.png", false, "", 0, ""},
	}

	for _, tc := range cases {
		asset, ok := threemf.MatchPlateAsset(tc.name)
		if ok != tc.match {
			t.Errorf("MatchPlateAsset(%q) matched=%v, want %v", tc.name, ok, tc.match)
			continue
		}
		if !ok {
			continue
		}
		if asset.Stem != tc.stem || asset.Number != tc.number || asset.Ext != tc.ext {
			t.Errorf("MatchPlateAsset(%q) = %+v, want stem=%q number=%d ext=%q",
				tc.name, asset, tc.stem, tc.number, tc.ext)
		}
	}
}

func TestPlateAssetWithNumber(t *testing.T) {
	asset, ok := threemf.MatchPlateAsset("Metadata/plate_no_light_4.png")
	if !ok {
		t.Fatal("expected match")
	}
	if got := asset.WithNumber(1); got != "Metadata/plate_no_light_1.png" {
		t.Fatalf("WithNumber returned %q", got)
	}

	md5, ok := threemf.MatchPlateAsset("Metadata/plate_7.gcode.md5")
	if !ok {
		t.Fatal("expected match")
	}
	if got := md5.WithNumber(1); got != "Metadata/plate_1.gcode.md5" {
		t.Fatalf("WithNumber returned %q", got)
	}
}
