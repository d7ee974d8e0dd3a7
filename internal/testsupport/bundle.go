package testsupport

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ZipEntry is one member of a generated archive, written in slice order.
type ZipEntry struct {
	Name string
	Data []byte
}

// WriteZip creates a zip file at path containing exactly the given entries.
func WriteZip(t testing.TB, path string, entries []ZipEntry) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, entry := range entries {
		w, err := zw.Create(entry.Name)
		if err != nil {
			t.Fatalf("create entry %s: %v", entry.Name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			t.Fatalf("write entry %s: %v", entry.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file %s: %v", path, err)
	}
}

// PlateSpec describes one <plate> block in a generated plate listing.
type PlateSpec struct {
	ID    int
	GCode string
}

// ModelSettingsXML renders a model_settings.config document listing the given
// plates in order.
func ModelSettingsXML(plates ...PlateSpec) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<config>\n")
	for _, plate := range plates {
		fmt.Fprintf(&b, "  <plate>\n")
		fmt.Fprintf(&b, "    <metadata key=\"plater_id\" value=\"%d\"/>\n", plate.ID)
		fmt.Fprintf(&b, "    <metadata key=\"plater_name\" value=\"\"/>\n")
		fmt.Fprintf(&b, "    <metadata key=\"locked\" value=\"false\"/>\n")
		fmt.Fprintf(&b, "    <metadata key=\"thumbnail_file\" value=\"Metadata/plate_%d.png\"/>\n", plate.ID)
		fmt.Fprintf(&b, "    <metadata key=\"thumbnail_no_light_file\" value=\"Metadata/plate_no_light_%d.png\"/>\n", plate.ID)
		fmt.Fprintf(&b, "    <metadata key=\"top_file\" value=\"Metadata/top_%d.png\"/>\n", plate.ID)
		fmt.Fprintf(&b, "    <metadata key=\"pick_file\" value=\"Metadata/pick_%d.png\"/>\n", plate.ID)
		fmt.Fprintf(&b, "    <metadata key=\"gcode_file\" value=\"%s\"/>\n", plate.GCode)
		fmt.Fprintf(&b, "  </plate>\n")
	}
	b.WriteString("  <assemble>\n    <assemble_item object_id=\"2\" instance_id=\"0\"/>\n  </assemble>\n</config>")
	return b.String()
}

// SliceInfoXML renders a slice_info.config document with one plate block per
// index.
func SliceInfoXML(indexes ...int) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<config>\n")
	b.WriteString("  <header>\n    <header_item key=\"X-BBL-Client-Type\" value=\"slicer\"/>\n  </header>\n")
	for _, index := range indexes {
		fmt.Fprintf(&b, "  <plate>\n")
		fmt.Fprintf(&b, "    <metadata key=\"index\" value=\"%d\"/>\n", index)
		fmt.Fprintf(&b, "    <metadata key=\"nozzle_diameters\" value=\"0.4\"/>\n")
		fmt.Fprintf(&b, "  </plate>\n")
	}
	b.WriteString("</config>")
	return b.String()
}

// CoverRelsXML renders a _rels/.rels document whose cover thumbnails point at
// the given plate.
func CoverRelsXML(plate int) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
 <Relationship Target="/3D/3dmodel.model" Id="rel-1" Type="http://schemas.microsoft.com/3dmanufacturing/2013/01/3dmodel"/>
 <Relationship Target="/Metadata/plate_%d.png" Id="rel-2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/thumbnail"/>
 <Relationship Target="/Metadata/plate_%d_small.png" Id="rel-4" Type="http://schemas.bambulab.com/package/2021/cover-thumbnail-small"/>
</Relationships>`, plate, plate)
}

// SettingsRelsXML renders a model_settings.config.rels document pointing at
// the given plate's G-code.
func SettingsRelsXML(plate int) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
 <Relationship Target="/Metadata/plate_%d.gcode" Id="rel-1" Type="http://schemas.bambulab.com/package/2021/gcode"/>
</Relationships>`, plate)
}

// ContentTypesXML renders the container manifest.
func ContentTypesXML() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
 <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
 <Default Extension="model" ContentType="application/vnd.ms-package.3dmanufacturing-3dmodel+xml"/>
 <Default Extension="png" ContentType="image/png"/>
 <Default Extension="gcode" ContentType="text/x.gcode"/>
</Types>`
}

// ModelXML renders a minimal 3D/3dmodel.model document whose thumbnail
// metadata points at the given plate.
func ModelXML(plate int) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<model unit="millimeter" xml:lang="en-US" xmlns="http://schemas.microsoft.com/3dmanufacturing/core/2015/02">
 <metadata name="Application">BambuStudio-02.03.01.06</metadata>
 <metadata name="Thumbnail_Middle">/Metadata/plate_%d.png</metadata>
 <metadata name="Thumbnail_Small">/Metadata/plate_%d_small.png</metadata>
 <resources>
  <object id="2" type="model"/>
 </resources>
 <build/>
</model>`, plate, plate)
}

// BundleOptions shapes WriteBundle output.
type BundleOptions struct {
	// Plates lists every plate id present in the listing. The Exported plate
	// gets a G-code entry and sliced metadata; the others only carry
	// thumbnails, matching a project where a single plate was exported.
	Plates   []int
	Exported int
	// Wrapper, when set (e.g. "export/"), prefixes every content entry with a
	// top-level directory, mimicking a hand-rezipped bundle.
	Wrapper string
	// Junk adds __MACOSX/ and .DS_Store entries.
	Junk bool
}

// WriteBundle creates a realistic multi-plate project bundle at path.
func WriteBundle(t testing.TB, path string, opts BundleOptions) {
	t.Helper()

	if len(opts.Plates) == 0 {
		opts.Plates = []int{1}
	}
	if opts.Exported == 0 {
		opts.Exported = opts.Plates[0]
	}

	plateSpecs := make([]PlateSpec, 0, len(opts.Plates))
	for _, id := range opts.Plates {
		spec := PlateSpec{ID: id}
		if id == opts.Exported {
			spec.GCode = fmt.Sprintf("Metadata/plate_%d.gcode", id)
		}
		plateSpecs = append(plateSpecs, spec)
	}

	entries := []ZipEntry{
		{Name: "[Content_Types].xml", Data: []byte(ContentTypesXML())},
		{Name: "_rels/.rels", Data: []byte(CoverRelsXML(opts.Exported))},
		{Name: "3D/3dmodel.model", Data: []byte(ModelXML(opts.Exported))},
		{Name: "Metadata/model_settings.config", Data: []byte(ModelSettingsXML(plateSpecs...))},
		{Name: "Metadata/_rels/model_settings.config.rels", Data: []byte(SettingsRelsXML(opts.Exported))},
		{Name: "Metadata/slice_info.config", Data: []byte(SliceInfoXML(opts.Exported))},
		{Name: "Metadata/project_settings.config", Data: []byte("{\"printer\":\"test\"}")},
	}
	for _, id := range opts.Plates {
		entries = append(entries,
			ZipEntry{Name: fmt.Sprintf("Metadata/plate_%d.png", id), Data: []byte(fmt.Sprintf("png-%d", id))},
			ZipEntry{Name: fmt.Sprintf("Metadata/plate_%d_small.png", id), Data: []byte(fmt.Sprintf("png-small-%d", id))},
			ZipEntry{Name: fmt.Sprintf("Metadata/plate_no_light_%d.png", id), Data: []byte(fmt.Sprintf("png-nolight-%d", id))},
			ZipEntry{Name: fmt.Sprintf("Metadata/top_%d.png", id), Data: []byte(fmt.Sprintf("png-top-%d", id))},
			ZipEntry{Name: fmt.Sprintf("Metadata/pick_%d.png", id), Data: []byte(fmt.Sprintf("png-pick-%d", id))},
		)
	}
	entries = append(entries,
		ZipEntry{Name: fmt.Sprintf("Metadata/plate_%d.gcode", opts.Exported), Data: []byte("; test gcode\nG28\n")},
		ZipEntry{Name: fmt.Sprintf("Metadata/plate_%d.gcode.md5", opts.Exported), Data: []byte("d41d8cd98f00b204e9800998ecf8427e")},
		ZipEntry{Name: fmt.Sprintf("Metadata/plate_%d.json", opts.Exported), Data: []byte("{\"filament\":\"PLA\"}")},
	)

	if opts.Wrapper != "" {
		for i := range entries {
			entries[i].Name = opts.Wrapper + entries[i].Name
		}
	}
	if opts.Junk {
		junk := []ZipEntry{
			{Name: "__MACOSX/._bundle", Data: []byte{0x00, 0x05, 0x16, 0x07}},
		}
		dsStore := ZipEntry{Name: "Metadata/.DS_Store", Data: []byte("Bud1")}
		if opts.Wrapper != "" {
			dsStore.Name = opts.Wrapper + dsStore.Name
		}
		entries = append(entries, junk...)
		entries = append(entries, dsStore)
	}

	WriteZip(t, path, entries)
}
