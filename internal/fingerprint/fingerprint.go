// Package fingerprint renders a reference recording's band energies as a
// spectrogram image and reduces it to a 64-bit perceptual hash, so
// near-duplicate references can be spotted without comparing weights.
package fingerprint

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/corona10/goimagehash"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/features"
)

// NearDuplicateDistance is the Hamming distance at or below which two
// references are considered the same sound.
const NearDuplicateDistance = 6

// floor of the log scale, relative to the loudest cell
const dynamicRangeDB = 80

var ErrNoVectors = errors.New("fingerprint: no feature vectors")

// Spectrogram draws vectors as a grayscale image: x is time, y is band
// (low frequencies at the bottom), brightness is log relative energy.
func Spectrogram(vectors []features.Vector) (*image.Gray, error) {
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}
	bins := len(vectors[0].Relative)
	if bins == 0 {
		return nil, fmt.Errorf("fingerprint: empty feature vector")
	}

	var peak float64
	for _, v := range vectors {
		if len(v.Relative) != bins {
			return nil, fmt.Errorf("fingerprint: vector has %d bands, want %d", len(v.Relative), bins)
		}
		for _, e := range v.Relative {
			peak = math.Max(peak, e)
		}
	}
	if peak <= 0 {
		return nil, fmt.Errorf("fingerprint: spectrogram has no energy")
	}

	img := image.NewGray(image.Rect(0, 0, len(vectors), bins))
	for x, v := range vectors {
		for b, e := range v.Relative {
			db := 10 * math.Log10(math.Max(e/peak, 1e-12))
			level := 1 + db/dynamicRangeDB
			if level < 0 {
				level = 0
			}
			img.SetGray(x, bins-1-b, color.Gray{Y: uint8(math.Round(level * 255))})
		}
	}
	return img, nil
}

// Hash returns the perceptual hash of the vectors' spectrogram as 16 hex
// digits.
func Hash(vectors []features.Vector) (string, error) {
	img, err := Spectrogram(vectors)
	if err != nil {
		return "", err
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", fmt.Errorf("fingerprint: hash: %w", err)
	}
	return fmt.Sprintf("%016x", h.GetHash()), nil
}

// Distance returns the Hamming distance between two hashes from Hash.
func Distance(a, b string) (int, error) {
	ha, err := parse(a)
	if err != nil {
		return 0, err
	}
	hb, err := parse(b)
	if err != nil {
		return 0, err
	}
	return ha.Distance(hb)
}

// Similar reports whether two hashes are within NearDuplicateDistance.
func Similar(a, b string) bool {
	d, err := Distance(a, b)
	return err == nil && d <= NearDuplicateDistance
}

func parse(s string) (*goimagehash.ImageHash, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: invalid hash %q: %w", s, err)
	}
	return goimagehash.NewImageHash(v, goimagehash.PHash), nil
}
