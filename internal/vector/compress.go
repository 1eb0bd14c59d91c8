// Package vector implements scalar quantization for embedding vectors.
// Cached and archived vectors are stored as int8 with per-vector scale
// parameters, a 4x size reduction with bounded precision loss.
package vector

import (
	"github.com/ridewise-ai/ridewise/internal/domain"
)

// Compressed is an int8-quantized vector plus the parameters needed to
// reconstruct an approximation of the original.
type Compressed struct {
	Data []int8  `json:"data"`
	Min  float32 `json:"min"`
	Max  float32 `json:"max"`
}

// Quantize maps each component of v into the int8 range using the vector's
// own min and max. A constant vector compresses to all zeros.
func Quantize(v []float32) (*Compressed, error) {
	if len(v) == 0 {
		return nil, domain.NewError(domain.KindValidation, "cannot quantize empty vector", nil)
	}

	min, max := v[0], v[0]
	for _, x := range v[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}

	c := &Compressed{Data: make([]int8, len(v)), Min: min, Max: max}
	if max == min {
		return c, nil
	}

	scale := 255.0 / (max - min)
	for i, x := range v {
		q := int32((x-min)*scale) - 128
		if q > 127 {
			q = 127
		}
		if q < -128 {
			q = -128
		}
		c.Data[i] = int8(q)
	}
	return c, nil
}

// Decompress reconstructs the approximate float32 vector.
func (c *Compressed) Decompress() []float32 {
	v := make([]float32, len(c.Data))
	if c.Max == c.Min {
		for i := range v {
			v[i] = c.Min
		}
		return v
	}

	scale := (c.Max - c.Min) / 255.0
	for i, q := range c.Data {
		v[i] = (float32(q)+128.0)*scale + c.Min
	}
	return v
}

// CompressionRatio reports the size reduction relative to float32 storage.
func (c *Compressed) CompressionRatio() float64 {
	if len(c.Data) == 0 {
		return 1
	}
	original := len(c.Data) * 4
	compressed := len(c.Data) + 8
	return float64(original) / float64(compressed)
}
