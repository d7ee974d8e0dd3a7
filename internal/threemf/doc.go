// Package threemf models a .gcode.3mf project bundle as an ordered list of
// zip entries plus the container-level facts conversion needs: the wrapper
// prefix left behind by hand-zipped bundles, platform junk entries, the
// well-known metadata document paths, and the plate-numbered asset naming
// scheme used under Metadata/.
//
// Archives are loaded fully into memory so the underlying file handle can be
// closed before any conversion work starts.
package threemf
