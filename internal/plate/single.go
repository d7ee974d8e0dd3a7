package plate

import (
	"log/slog"
	"regexp"
	"strconv"
	"unicode/utf8"

	"replate/internal/logging"
	"replate/internal/threemf"
)

var relsPlateRx = regexp.MustCompile(`plate_(\d+)`)

// AlreadySingle reports whether the bundle already holds exactly plate 1 and
// nothing referencing any other plate number. Such bundles are copied through
// byte for byte instead of being rewritten. The check never fails; anything
// suspicious answers false and the full conversion path takes over.
func AlreadySingle(arc *threemf.Archive, logger *slog.Logger) bool {
	if logger == nil {
		logger = logging.NewNop()
	}

	data, ok := arc.Data(arc.Prefix + threemf.ModelSettingsPath)
	if !ok {
		return false
	}
	if !utf8.Valid(data) {
		logger.Warn("could not decode entry as UTF-8",
			logging.String(logging.FieldEntry, arc.Prefix+threemf.ModelSettingsPath))
		return false
	}

	plates, err := ParseListing(string(data))
	if err != nil {
		return false
	}
	if len(plates) != 1 || plates[0].ID != 1 {
		return false
	}

	for _, entry := range arc.Entries {
		if entry.Dir || threemf.IsJunk(entry.Name) {
			continue
		}
		asset, ok := threemf.MatchPlateAsset(arc.StripPrefix(entry.Name))
		if ok && asset.Number != 1 {
			return false
		}
	}

	if rels, ok := arc.Data(arc.Prefix + threemf.RootRelsPath); ok {
		if !utf8.Valid(rels) {
			logger.Warn("could not decode entry as UTF-8",
				logging.String(logging.FieldEntry, arc.Prefix+threemf.RootRelsPath))
			return true
		}
		for _, m := range relsPlateRx.FindAllStringSubmatch(string(rels), -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n != 1 {
				return false
			}
		}
	}
	return true
}
