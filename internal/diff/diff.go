// Package diff implements frame change detection via compact content
// fingerprints. Two fingerprints compare equal iff the frames are
// considered visually identical for capture-gating purposes.
package diff

import (
	"hash/fnv"

	"screentrail/internal/grab"
)

// fingerprintSide is the edge length of the downsampled luma plane the
// fingerprint is computed over.
const fingerprintSide = 64

// Fingerprint is an opaque, comparable content hash of one frame.
// Equality is the only meaningful operation.
type Fingerprint uint64

// Detector computes fingerprints and compares frames against the last
// captured reference. It holds no state; the caller owns the reference
// fingerprint and decides when to adopt a new one.
type Detector struct {
	side int
}

func NewDetector() *Detector {
	return &Detector{side: fingerprintSide}
}

// Fingerprint downsamples the frame to side×side with nearest-neighbour
// sampling, reduces each sample to 8-bit luma, and hashes the plane with
// FNV-1a. Deterministic: identical pixel data always yields the same value.
func (d *Detector) Fingerprint(f *grab.Frame) Fingerprint {
	h := fnv.New64a()
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return Fingerprint(h.Sum64())
	}
	plane := make([]byte, 0, d.side*d.side)
	for y := 0; y < d.side; y++ {
		sy := y * f.Height / d.side
		for x := 0; x < d.side; x++ {
			sx := x * f.Width / d.side
			i := (sy*f.Width + sx) * 4
			r := int(f.Pix[i])
			g := int(f.Pix[i+1])
			b := int(f.Pix[i+2])
			// BT.601 integer luma
			plane = append(plane, byte((299*r+587*g+114*b)/1000))
		}
	}
	h.Write(plane)
	return Fingerprint(h.Sum64())
}

// HasChanged compares the frame against the last captured fingerprint.
// A nil last fingerprint (first tick, or first tick after a blocked span)
// always counts as changed. The new fingerprint is returned regardless of
// the verdict so the caller can adopt it only when the frame is actually
// captured.
func (d *Detector) HasChanged(f *grab.Frame, last *Fingerprint) (bool, Fingerprint) {
	fp := d.Fingerprint(f)
	if last == nil {
		return true, fp
	}
	return fp != *last, fp
}
