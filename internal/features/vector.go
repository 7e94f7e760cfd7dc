package features

// Defaults and thresholds for the extraction pipeline.
const (
	DefaultBins          = 512
	DefaultWindowSeconds = 0.33
	DefaultHopSeconds    = 0.066

	MinStdDev          = 1e-6
	MinStandardizedRMS = 1e-6
	MinTotalEnergy     = 1e-10
)

// Conditioning records which standardization branch produced a vector.
type Conditioning int

const (
	// Standardized: zero mean, unit variance.
	Standardized Conditioning = iota
	// CenteredOnly: variance too small to divide by; mean removed only.
	CenteredOnly
	// RawFallback: standardization degenerated; raw samples used.
	RawFallback
	// PreStandardized: input was standardized upstream.
	PreStandardized
)

func (c Conditioning) String() string {
	switch c {
	case Standardized:
		return "standardized"
	case CenteredOnly:
		return "centered_only"
	case RawFallback:
		return "raw_fallback"
	case PreStandardized:
		return "pre_standardized"
	default:
		return "unknown"
	}
}

// Degraded reports whether a fallback branch was taken, which usually
// means poor recording conditions.
func (c Conditioning) Degraded() bool { return c == CenteredOnly || c == RawFallback }

// Vector is the band-energy profile of one window. Treat as immutable.
type Vector struct {
	Relative     []float64    `json:"relative" msgpack:"relative"`
	Absolute     []float64    `json:"absolute" msgpack:"absolute"`
	Bins         int          `json:"bins" msgpack:"bins"`
	MinFrequency float64      `json:"min_frequency" msgpack:"min_frequency"`
	MaxFrequency float64      `json:"max_frequency" msgpack:"max_frequency"`
	SampleRate   int          `json:"sample_rate" msgpack:"sample_rate"`
	RMS          float64      `json:"rms" msgpack:"rms"`
	Conditioning Conditioning `json:"conditioning" msgpack:"conditioning"`
}

// Relatives extracts the relative profiles of vs.
func Relatives(vs []Vector) [][]float64 {
	out := make([][]float64, len(vs))
	for i, v := range vs {
		out[i] = v.Relative
	}
	return out
}
