package threemf

import (
	"fmt"
	"regexp"
	"strconv"
)

// Plate-numbered assets live under Metadata/ and carry their plate number as
// a trailing _<N> run immediately before the extension: plate_2.gcode,
// plate_2.gcode.md5, top_2.png, plate_no_light_2.png. Names whose digits are
// not adjacent to the extension (plate_2_small.png) deliberately do not
// match; they are handled by the document rewrites instead.
var plateAssetRx = regexp.MustCompile(`^(Metadata/)(.+?)_(\d+)(\.[^/]+)$`)

// PlateAsset is a decomposed plate-numbered asset name.
type PlateAsset struct {
	Dir    string
	Stem   string
	Number int
	Ext    string
}

// MatchPlateAsset decomposes name if it follows the plate-numbered asset
// scheme. Digit runs that overflow int are treated as not matching.
func MatchPlateAsset(name string) (PlateAsset, bool) {
	m := plateAssetRx.FindStringSubmatch(name)
	if m == nil {
		return PlateAsset{}, false
	}
	number, err := strconv.Atoi(m[3])
	if err != nil {
		return PlateAsset{}, false
	}
	return PlateAsset{Dir: m[1], Stem: m[2], Number: number, Ext: m[4]}, true
}

// WithNumber rebuilds the asset name with a substituted plate number.
func (p PlateAsset) WithNumber(number int) string {
	return fmt.Sprintf("%s%s_%d%s", p.Dir, p.Stem, number, p.Ext)
}
