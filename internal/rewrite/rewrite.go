// Package rewrite renumbers plate references inside bundle documents so that
// the kept plate becomes plate 1. Rewrites are best-effort: a document that
// cannot be decoded or parsed passes through unchanged with a warning, since
// slicers tolerate stale secondary metadata far better than a missing entry.
package rewrite

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"replate/internal/logging"
	"replate/internal/threemf"
	"replate/internal/xmltree"
)

// newPlate is the plate number every kept plate is renumbered to.
const newPlate = 1

var (
	thumbMiddleRx = regexp.MustCompile(`(<metadata\s+name="Thumbnail_Middle">)\s*/Metadata/plate_\d+\.png(\s*</metadata>)`)
	thumbSmallRx  = regexp.MustCompile(`(<metadata\s+name="Thumbnail_Small">)\s*/Metadata/plate_\d+_small\.png(\s*</metadata>)`)
)

// Rewriter rewrites entry names and document contents for one conversion,
// keyed to the plate being kept.
type Rewriter struct {
	keepID int
	logger *slog.Logger
	refs   *strings.Replacer
}

// New returns a Rewriter that keeps keepID and renumbers it to plate 1.
func New(keepID int, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Rewriter{
		keepID: keepID,
		logger: logger,
		refs:   newRefReplacer(keepID),
	}
}

// newRefReplacer covers the per-plate file references that appear in plate
// metadata values.
func newRefReplacer(keepID int) *strings.Replacer {
	patterns := []string{
		"plate_%d.gcode",
		"plate_%d.png",
		"plate_%d_small.png",
		"plate_no_light_%d.png",
		"top_%d.png",
		"pick_%d.png",
		"front_%d.png",
		"back_%d.png",
		"plate_%d.json",
	}
	pairs := make([]string, 0, len(patterns)*2)
	for _, p := range patterns {
		pairs = append(pairs, fmt.Sprintf(p, keepID), fmt.Sprintf(p, newPlate))
	}
	return strings.NewReplacer(pairs...)
}

// RenameOrDrop maps a wrapper-stripped entry name to its output name. Plate
// assets of the kept plate are renumbered to plate 1, plate assets of every
// other plate are dropped, and anything else keeps its name.
func (r *Rewriter) RenameOrDrop(name string) (string, bool) {
	asset, ok := threemf.MatchPlateAsset(name)
	if !ok {
		return name, true
	}
	if asset.Number != r.keepID {
		return name, false
	}
	return asset.WithNumber(newPlate), true
}

// Apply rewrites the contents of documents known to reference plate numbers.
// Entries with no registered rewrite, and entries whose rewrite fails, come
// back unchanged.
func (r *Rewriter) Apply(name string, data []byte) []byte {
	fn := r.rewriterFor(name)
	if fn == nil {
		return data
	}
	if !utf8.Valid(data) {
		r.logger.Warn("entry not valid UTF-8, leaving as-is",
			logging.String(logging.FieldEntry, name))
		return data
	}
	out, err := fn(string(data))
	if err != nil {
		r.logger.Warn("failed to rewrite entry, leaving as-is",
			logging.String(logging.FieldEntry, name), logging.Error(err))
		return data
	}
	return []byte(out)
}

func (r *Rewriter) rewriterFor(name string) func(string) (string, error) {
	switch name {
	case threemf.RootRelsPath:
		return func(text string) (string, error) { return r.CoverRels(text), nil }
	case threemf.ModelSettingsRelsPath:
		return func(text string) (string, error) { return r.SettingsRels(text), nil }
	case threemf.ModelSettingsPath:
		return r.ModelSettings
	case threemf.SliceInfoPath:
		return r.SliceInfo
	case threemf.ModelPath:
		return func(text string) (string, error) { return r.ModelThumbnails(text), nil }
	}
	return nil
}

// CoverRels retargets the cover thumbnail relationships at plate 1.
func (r *Rewriter) CoverRels(text string) string {
	text = strings.ReplaceAll(text,
		fmt.Sprintf("/Metadata/plate_%d.png", r.keepID),
		fmt.Sprintf("/Metadata/plate_%d.png", newPlate))
	text = strings.ReplaceAll(text,
		fmt.Sprintf("/Metadata/plate_%d_small.png", r.keepID),
		fmt.Sprintf("/Metadata/plate_%d_small.png", newPlate))
	return text
}

// SettingsRels retargets the G-code relationship at plate 1.
func (r *Rewriter) SettingsRels(text string) string {
	return strings.ReplaceAll(text,
		fmt.Sprintf("/Metadata/plate_%d.gcode", r.keepID),
		fmt.Sprintf("/Metadata/plate_%d.gcode", newPlate))
}

// ModelThumbnails points the model's thumbnail metadata at plate 1 whatever
// plate it referenced before.
func (r *Rewriter) ModelThumbnails(text string) string {
	text = thumbMiddleRx.ReplaceAllString(text,
		fmt.Sprintf("${1}/Metadata/plate_%d.png${2}", newPlate))
	text = thumbSmallRx.ReplaceAllString(text,
		fmt.Sprintf("${1}/Metadata/plate_%d_small.png${2}", newPlate))
	return text
}

// ModelSettings reduces the plate listing to the kept plate, renumbers it to
// plate 1, and renumbers the file references inside its metadata. A listing
// without plates, or without the kept plate, comes back unchanged.
func (r *Rewriter) ModelSettings(text string) (string, error) {
	root, err := xmltree.Parse([]byte(text))
	if err != nil {
		return "", err
	}
	plates := root.FindAll("plate")
	if len(plates) == 0 {
		return text, nil
	}

	var keep *xmltree.Element
	for _, elem := range plates {
		id, idOK := 0, false
		for _, md := range elem.FindAll("metadata") {
			if md.Attr("key") != "plater_id" {
				continue
			}
			if v, err := strconv.Atoi(md.Attr("value")); err == nil {
				id, idOK = v, true
			} else {
				id, idOK = 0, false
			}
		}
		if idOK && id == r.keepID {
			keep = elem
			break
		}
	}
	if keep == nil {
		r.logger.Warn("kept plate not found in listing, leaving document unchanged",
			logging.Int(logging.FieldPlate, r.keepID))
		return text, nil
	}

	for _, elem := range plates {
		root.Remove(elem)
	}
	root.Append(keep)

	for _, md := range keep.FindAll("metadata") {
		if md.Attr("key") == "plater_id" {
			md.SetAttr("value", strconv.Itoa(newPlate))
			continue
		}
		value := md.Attr("value")
		if renumbered := r.refs.Replace(value); renumbered != value {
			md.SetAttr("value", renumbered)
		}
	}
	return string(xmltree.Marshal(root)), nil
}

// SliceInfo reduces the slice report to the kept plate and renumbers its
// index to 1. When no plate block carries the kept index the first block is
// kept, mirroring what slicers do with a single-plate report.
func (r *Rewriter) SliceInfo(text string) (string, error) {
	root, err := xmltree.Parse([]byte(text))
	if err != nil {
		return "", err
	}
	plates := root.FindAll("plate")
	if len(plates) == 0 {
		return text, nil
	}

	var keep *xmltree.Element
	for _, elem := range plates {
		idx, idxOK := 0, false
		for _, md := range elem.FindAll("metadata") {
			if md.Attr("key") != "index" {
				continue
			}
			if v, err := strconv.Atoi(md.Attr("value")); err == nil {
				idx, idxOK = v, true
			} else {
				idx, idxOK = 0, false
			}
		}
		if idxOK && idx == r.keepID {
			keep = elem
			break
		}
	}
	if keep == nil {
		keep = plates[0]
	}

	for _, elem := range plates {
		root.Remove(elem)
	}
	root.Append(keep)

	for _, md := range keep.FindAll("metadata") {
		if md.Attr("key") == "index" {
			md.SetAttr("value", strconv.Itoa(newPlate))
		}
	}
	return string(xmltree.Marshal(root)), nil
}
