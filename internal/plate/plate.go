// Package plate reads the plate listing of a project bundle, decides which
// plate was actually exported, and answers the fast-path question of whether
// a bundle is already in canonical single-plate form.
package plate

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"replate/internal/logging"
	"replate/internal/threemf"
	"replate/internal/xmltree"
)

var (
	// ErrMissingListing marks bundles whose plate listing is absent,
	// undecodable, or contains no plate entries. Fatal for conversion.
	ErrMissingListing = errors.New("missing or unreadable plate listing")
	// ErrMalformedListing marks plate listings that fail XML parsing. Fatal
	// for conversion.
	ErrMalformedListing = errors.New("malformed plate listing")
)

// Info is one <plate> block from model_settings.config. GCode holds the raw
// gcode_file metadata value ("" when the plate was never sliced).
type Info struct {
	ID    int
	GCode string
	Elem  *xmltree.Element
}

// ParseListing extracts the plates from a model_settings.config document.
// Plates without a parseable plater_id are skipped; repeated metadata keys
// within a plate follow last-one-wins.
func ParseListing(text string) ([]Info, error) {
	root, err := xmltree.Parse([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedListing, err)
	}

	var plates []Info
	for _, elem := range root.FindAll("plate") {
		var (
			id    int
			idSet bool
			gcode string
		)
		for _, md := range elem.FindAll("metadata") {
			switch md.Attr("key") {
			case "plater_id":
				if v, err := strconv.Atoi(md.Attr("value")); err == nil {
					id = v
					idSet = true
				}
			case "gcode_file":
				gcode = md.Attr("value")
			}
		}
		if idSet {
			plates = append(plates, Info{ID: id, GCode: gcode, Elem: elem})
		}
	}
	return plates, nil
}

// Detection names the exported plate and the stored path of its G-code entry.
type Detection struct {
	ID        int
	GCodePath string
}

// Detect picks the exported plate from the bundle's listing:
//
//  1. plates with a non-empty gcode_file whose referenced entry exists in the
//     archive; the lowest plater_id wins,
//  2. otherwise a single plate with a non-empty gcode_file, even though the
//     file is missing (warned),
//  3. otherwise plate 1 (warned).
func Detect(arc *threemf.Archive, logger *slog.Logger) (Detection, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	listingPath := arc.Prefix + threemf.ModelSettingsPath
	text, err := readListing(arc, listingPath, logger)
	if err != nil {
		return Detection{}, err
	}

	plates, err := ParseListing(text)
	if err != nil {
		return Detection{}, err
	}
	if len(plates) == 0 {
		return Detection{}, fmt.Errorf("%w: no plate entries in %s", ErrMissingListing, threemf.ModelSettingsPath)
	}

	type candidate struct {
		id    int
		gpath string
	}
	var candidates []candidate
	for _, p := range plates {
		if strings.TrimSpace(p.GCode) == "" {
			continue
		}
		gpath := arc.Prefix + strings.TrimLeft(p.GCode, "/")
		if arc.Exists(gpath) {
			candidates = append(candidates, candidate{id: p.ID, gpath: gpath})
		}
	}
	if len(candidates) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })
		return Detection{ID: candidates[0].id, GCodePath: candidates[0].gpath}, nil
	}

	var withGCode []Info
	for _, p := range plates {
		if strings.TrimSpace(p.GCode) != "" {
			withGCode = append(withGCode, p)
		}
	}
	if len(withGCode) == 1 {
		logger.Warn("gcode file listed but not found in archive",
			logging.String("gcode_file", withGCode[0].GCode))
		gpath := arc.Prefix + strings.TrimLeft(withGCode[0].GCode, "/")
		return Detection{ID: withGCode[0].ID, GCodePath: gpath}, nil
	}

	logger.Warn("could not detect exported plate from gcode references, defaulting to plate 1")
	return Detection{ID: 1, GCodePath: arc.Prefix + "Metadata/plate_1.gcode"}, nil
}

// readListing returns the listing text or ErrMissingListing when the entry is
// absent, empty, or not UTF-8.
func readListing(arc *threemf.Archive, storedName string, logger *slog.Logger) (string, error) {
	data, ok := arc.Data(storedName)
	if !ok || len(data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingListing, threemf.ModelSettingsPath)
	}
	if !utf8.Valid(data) {
		logger.Warn("could not decode entry as UTF-8", logging.String(logging.FieldEntry, storedName))
		return "", fmt.Errorf("%w: %s", ErrMissingListing, threemf.ModelSettingsPath)
	}
	return string(data), nil
}
