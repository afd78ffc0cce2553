// Package port computes the contiguous worker port range and probes it.
//
// Worker i is always bound to base+i, so the range is a bijection between
// workers and ports. Probing is advisory: a port that is free at probe time
// can still be taken before a worker binds it.
package port
