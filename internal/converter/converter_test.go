package converter_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"replate/internal/config"
	"replate/internal/converter"
	"replate/internal/logging"
	"replate/internal/plate"
	"replate/internal/testsupport"
	"replate/internal/threemf"
)

func newConverter(t *testing.T) (*converter.Converter, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return converter.New(cfg, logging.NewNop()), cfg
}

func readEntry(t *testing.T, arc *threemf.Archive, name string) []byte {
	t.Helper()
	data, ok := arc.Data(name)
	if !ok {
		t.Fatalf("entry %s missing from output", name)
	}
	return data
}

func TestConvertMultiPlateBundle(t *testing.T) {
	conv, cfg := newConverter(t)
	input := filepath.Join(t.TempDir(), "multi.gcode.3mf")
	testsupport.WriteBundle(t, input, testsupport.BundleOptions{Plates: []int{1, 2, 3}, Exported: 2})

	res, err := conv.Convert(context.Background(), input, cfg.Paths.OutputDir)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.FastPath {
		t.Error("multi-plate bundle should not take the fast path")
	}
	if res.PlateID != 2 {
		t.Errorf("PlateID = %d, want 2", res.PlateID)
	}
	want := filepath.Join(cfg.Paths.OutputDir, "multi_plate2.gcode.3mf")
	if res.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", res.OutputPath, want)
	}

	out, err := threemf.Open(res.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if out.Prefix != "" {
		t.Errorf("output has wrapper prefix %q", out.Prefix)
	}

	// The exported plate's assets are renamed to plate 1 and carry the
	// exported plate's contents.
	if got := readEntry(t, out, "Metadata/plate_1.gcode"); !bytes.Contains(got, []byte("G28")) {
		t.Errorf("plate_1.gcode = %q, want the exported G-code", got)
	}
	if got := readEntry(t, out, "Metadata/plate_1.png"); string(got) != "png-2" {
		t.Errorf("plate_1.png = %q, want the exported plate's thumbnail", got)
	}
	readEntry(t, out, "Metadata/plate_1.gcode.md5")
	readEntry(t, out, "Metadata/plate_1.json")
	readEntry(t, out, "Metadata/top_1.png")
	readEntry(t, out, "Metadata/pick_1.png")
	readEntry(t, out, "Metadata/plate_no_light_1.png")

	// Other plates' numbered assets are gone.
	for _, name := range []string{
		"Metadata/plate_2.gcode",
		"Metadata/plate_2.png",
		"Metadata/plate_3.png",
		"Metadata/top_3.png",
	} {
		if out.Exists(name) {
			t.Errorf("entry %s should have been dropped or renamed", name)
		}
	}

	// Small thumbnails sit outside the numbered-asset shape and pass
	// through under their original names.
	readEntry(t, out, "Metadata/plate_2_small.png")
	readEntry(t, out, "Metadata/plate_3_small.png")

	plates, err := plate.ParseListing(string(readEntry(t, out, "Metadata/model_settings.config")))
	if err != nil {
		t.Fatalf("parse output listing: %v", err)
	}
	if len(plates) != 1 || plates[0].ID != 1 {
		t.Fatalf("output listing = %+v, want single plate 1", plates)
	}
	if plates[0].GCode != "Metadata/plate_1.gcode" {
		t.Errorf("output gcode_file = %q, want Metadata/plate_1.gcode", plates[0].GCode)
	}

	rels := string(readEntry(t, out, "_rels/.rels"))
	if !strings.Contains(rels, "/Metadata/plate_1.png") {
		t.Errorf("cover rels not retargeted:\n%s", rels)
	}
	if strings.Contains(rels, "plate_2.png") {
		t.Errorf("cover rels still reference plate 2:\n%s", rels)
	}

	model := string(readEntry(t, out, "3D/3dmodel.model"))
	if !strings.Contains(model, ">/Metadata/plate_1.png<") {
		t.Errorf("model thumbnail not retargeted:\n%s", model)
	}

	// 7 documents, 3 small thumbnails, 4 renamed plate assets, gcode with
	// md5 and json. 4 numbered assets each for plates 1 and 3 are dropped.
	if res.Written != 17 {
		t.Errorf("Written = %d, want 17", res.Written)
	}
	if res.Dropped != 8 {
		t.Errorf("Dropped = %d, want 8", res.Dropped)
	}
}

func TestConvertFastPathCopiesBytes(t *testing.T) {
	conv, cfg := newConverter(t)
	input := filepath.Join(t.TempDir(), "single.gcode.3mf")
	testsupport.WriteBundle(t, input, testsupport.BundleOptions{Plates: []int{1}, Exported: 1})

	res, err := conv.Convert(context.Background(), input, cfg.Paths.OutputDir)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !res.FastPath {
		t.Fatal("single-plate bundle should take the fast path")
	}
	if res.PlateID != 1 {
		t.Errorf("PlateID = %d, want 1", res.PlateID)
	}
	if res.Written != 0 || res.Dropped != 0 {
		t.Errorf("fast path counted entries: written=%d dropped=%d", res.Written, res.Dropped)
	}

	in, err := os.ReadFile(input)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	got, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(in, got) {
		t.Error("fast path should copy the input byte for byte")
	}
}

func TestConvertStripsWrapperAndJunk(t *testing.T) {
	conv, cfg := newConverter(t)
	input := filepath.Join(t.TempDir(), "wrapped.gcode.3mf")
	testsupport.WriteBundle(t, input, testsupport.BundleOptions{
		Plates:   []int{1, 2},
		Exported: 2,
		Wrapper:  "export/",
		Junk:     true,
	})

	res, err := conv.Convert(context.Background(), input, cfg.Paths.OutputDir)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	out, err := threemf.Open(res.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if out.Prefix != "" {
		t.Errorf("wrapper prefix %q survived conversion", out.Prefix)
	}
	if !out.Exists(threemf.ContentTypesPath) {
		t.Error("manifest should sit at the output root")
	}
	for _, entry := range out.Entries {
		if threemf.IsJunk(entry.Name) {
			t.Errorf("junk entry %s survived conversion", entry.Name)
		}
	}
	readEntry(t, out, "Metadata/plate_1.gcode")
}

func TestConvertAvoidsClobbering(t *testing.T) {
	conv, cfg := newConverter(t)
	input := filepath.Join(t.TempDir(), "multi.gcode.3mf")
	testsupport.WriteBundle(t, input, testsupport.BundleOptions{Plates: []int{1, 2}, Exported: 2})

	taken := filepath.Join(cfg.Paths.OutputDir, "multi_plate2.gcode.3mf")
	if err := os.MkdirAll(cfg.Paths.OutputDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(taken, []byte("existing"), 0o644); err != nil {
		t.Fatalf("seed existing output: %v", err)
	}

	res, err := conv.Convert(context.Background(), input, cfg.Paths.OutputDir)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := filepath.Join(cfg.Paths.OutputDir, "multi_plate2_1.gcode.3mf")
	if res.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", res.OutputPath, want)
	}

	res2, err := conv.Convert(context.Background(), input, cfg.Paths.OutputDir)
	if err != nil {
		t.Fatalf("second Convert: %v", err)
	}
	want2 := filepath.Join(cfg.Paths.OutputDir, "multi_plate2_2.gcode.3mf")
	if res2.OutputPath != want2 {
		t.Errorf("second OutputPath = %q, want %q", res2.OutputPath, want2)
	}

	if got, _ := os.ReadFile(taken); string(got) != "existing" {
		t.Error("existing output file was overwritten")
	}
}

func TestConvertMaxCompression(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCompressionLevel(9))
	conv := converter.New(cfg, logging.NewNop())

	input := filepath.Join(t.TempDir(), "dense.gcode.3mf")
	testsupport.WriteBundle(t, input, testsupport.BundleOptions{Plates: []int{1, 2}, Exported: 2})

	res, err := conv.Convert(context.Background(), input, cfg.Paths.OutputDir)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out, err := threemf.Open(res.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if got := readEntry(t, out, "Metadata/plate_1.gcode"); !bytes.Contains(got, []byte("G28")) {
		t.Errorf("plate_1.gcode = %q, want the exported G-code", got)
	}
}

func TestConvertNonCanonicalExtension(t *testing.T) {
	conv, cfg := newConverter(t)
	input := filepath.Join(t.TempDir(), "weird.3mf")
	testsupport.WriteBundle(t, input, testsupport.BundleOptions{Plates: []int{1, 2}, Exported: 2})

	res, err := conv.Convert(context.Background(), input, cfg.Paths.OutputDir)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := filepath.Join(cfg.Paths.OutputDir, "weird_plate2.3mf")
	if res.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", res.OutputPath, want)
	}
}

func TestConvertInvalidContainer(t *testing.T) {
	conv, cfg := newConverter(t)
	input := filepath.Join(t.TempDir(), "broken.gcode.3mf")
	if err := os.WriteFile(input, []byte("this is not a zip"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	_, err := conv.Convert(context.Background(), input, cfg.Paths.OutputDir)
	if !errors.Is(err, threemf.ErrInvalidContainer) {
		t.Fatalf("Convert error = %v, want ErrInvalidContainer", err)
	}
}

func TestConvertMissingListing(t *testing.T) {
	conv, cfg := newConverter(t)
	input := filepath.Join(t.TempDir(), "nolist.gcode.3mf")
	testsupport.WriteZip(t, input, []testsupport.ZipEntry{
		{Name: "[Content_Types].xml", Data: []byte(testsupport.ContentTypesXML())},
		{Name: "Metadata/plate_1.gcode", Data: []byte("G28")},
	})

	_, err := conv.Convert(context.Background(), input, cfg.Paths.OutputDir)
	if !errors.Is(err, plate.ErrMissingListing) {
		t.Fatalf("Convert error = %v, want ErrMissingListing", err)
	}
}

func TestConvertUnwritableDestination(t *testing.T) {
	conv, _ := newConverter(t)
	input := filepath.Join(t.TempDir(), "multi.gcode.3mf")
	testsupport.WriteBundle(t, input, testsupport.BundleOptions{Plates: []int{1, 2}, Exported: 2})

	blocked := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(blocked, []byte("file, not dir"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	_, err := conv.Convert(context.Background(), input, blocked)
	if !errors.Is(err, converter.ErrDestinationUnwritable) {
		t.Fatalf("Convert error = %v, want ErrDestinationUnwritable", err)
	}
}

func TestConvertCanceledContextRemovesPartialOutput(t *testing.T) {
	conv, cfg := newConverter(t)
	input := filepath.Join(t.TempDir(), "multi.gcode.3mf")
	testsupport.WriteBundle(t, input, testsupport.BundleOptions{Plates: []int{1, 2}, Exported: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conv.Convert(ctx, input, cfg.Paths.OutputDir)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Convert error = %v, want context.Canceled", err)
	}
	partial := filepath.Join(cfg.Paths.OutputDir, "multi_plate2.gcode.3mf")
	if _, err := os.Stat(partial); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial output %s should have been removed", partial)
	}
}

func TestConvertPassesMalformedSecondaryDocsThrough(t *testing.T) {
	conv, cfg := newConverter(t)

	malformedSliceInfo := []byte("<config><plate>")
	listing := testsupport.ModelSettingsXML(
		testsupport.PlateSpec{ID: 1},
		testsupport.PlateSpec{ID: 2, GCode: "Metadata/plate_2.gcode"},
	)
	input := filepath.Join(t.TempDir(), "badslice.gcode.3mf")
	testsupport.WriteZip(t, input, []testsupport.ZipEntry{
		{Name: "[Content_Types].xml", Data: []byte(testsupport.ContentTypesXML())},
		{Name: "Metadata/model_settings.config", Data: []byte(listing)},
		{Name: "Metadata/slice_info.config", Data: malformedSliceInfo},
		{Name: "Metadata/plate_2.gcode", Data: []byte("G28")},
	})

	res, err := conv.Convert(context.Background(), input, cfg.Paths.OutputDir)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	out, err := threemf.Open(res.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if got := readEntry(t, out, "Metadata/slice_info.config"); !bytes.Equal(got, malformedSliceInfo) {
		t.Errorf("malformed slice_info = %q, want passed through unchanged", got)
	}
	// The listing itself was still rewritten.
	plates, err := plate.ParseListing(string(readEntry(t, out, "Metadata/model_settings.config")))
	if err != nil {
		t.Fatalf("parse output listing: %v", err)
	}
	if len(plates) != 1 || plates[0].ID != 1 {
		t.Fatalf("output listing = %+v, want single plate 1", plates)
	}
}
