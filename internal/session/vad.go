package session

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square amplitude of little-endian 16-bit PCM,
// normalized to 0..1 (full scale 32768). Pure: same bytes, same result.
func RMS(pcm []byte) float64 {
	return Amplitude(pcm) / 32768.0
}

// Amplitude computes the absolute RMS amplitude on the 0..32767 sample scale.
func Amplitude(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(n))
}

// ThresholdMode selects how Detector.Threshold is interpreted.
type ThresholdMode int

const (
	// ThresholdAbsolute compares against RMS on the 0..32767 amplitude scale
	// (e.g. 2000).
	ThresholdAbsolute ThresholdMode = iota
	// ThresholdNormalized compares against RMS/32768 (e.g. 0.02).
	ThresholdNormalized
)

// Detector classifies a frame as speech or silence by RMS energy. It holds
// no state; classification depends only on the frame and the threshold.
type Detector struct {
	Mode      ThresholdMode
	Threshold float64
}

// IsSpeech reports whether the frame's energy clears the threshold.
func (d Detector) IsSpeech(f Frame) bool {
	switch d.Mode {
	case ThresholdNormalized:
		return RMS(f.PCM) >= d.Threshold
	default:
		return Amplitude(f.PCM) >= d.Threshold
	}
}
