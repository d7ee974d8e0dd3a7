// Package preflight provides readiness checks for the destination of a
// conversion run.
//
// The batch driver runs these before touching any input: a destination that
// cannot be written fails the run immediately, while a low free-space
// reading only warns, since the projected output size is an estimate.
package preflight
