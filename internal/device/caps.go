package device

import (
	"fmt"
	"strconv"

	"github.com/moralrecordings/gst-droid/hal"
	"github.com/moralrecordings/gst-droid/pipeline"
)

// Caps feature of buffers backed by a HAL surface
const FeatureDroidSurface = "memory:DroidSurface"

// Raw video formats a HAL preview format maps onto
var previewFormats = map[string]string{
	"yuv420p":  "YV12",
	"yuv420sp": "NV21",
	"yuv422i":  "YUY2",
	"rgb565":   "RGB16",
}

// ViewfinderCaps builds the caps the viewfinder can produce with the
// current camera parameters. The configured preview size and rate come
// first so that fixation keeps the camera as configured. Surface memory
// is preferred over system memory.
func ViewfinderCaps(p *hal.CameraParameters) pipeline.Caps {
	if p == nil {
		return pipeline.NewEmptyCaps()
	}

	sizes := p.PreviewSizes()
	if cur, ok := p.Get(hal.KeyPreviewSize); ok {
		if s, err := hal.ParseSize(cur); err == nil {
			sizes = preferSize(sizes, s)
		}
	}
	if len(sizes) == 0 {
		return pipeline.NewEmptyCaps()
	}

	rates := p.PreviewFrameRates()
	if cur, ok := p.Int(hal.KeyPreviewFrameRate); ok && cur > 0 {
		rates = preferRate(rates, cur)
	}
	if len(rates) == 0 {
		return pipeline.NewEmptyCaps()
	}
	framerates := make([]string, len(rates))
	for i, r := range rates {
		framerates[i] = fmt.Sprintf("%d/1", r)
	}

	var structures []pipeline.Structure
	for _, s := range sizes {
		st := pipeline.NewStructure("video/x-raw", FeatureDroidSurface)
		st.Set("format", "ENCODED", "YV12")
		st.Set("width", strconv.Itoa(s.Width))
		st.Set("height", strconv.Itoa(s.Height))
		st.Set("framerate", framerates...)
		structures = append(structures, st)
	}

	format, _ := p.Get(hal.KeyPreviewFormat)
	if raw, ok := previewFormats[format]; ok {
		for _, s := range sizes {
			st := pipeline.NewStructure("video/x-raw")
			st.Set("format", raw)
			st.Set("width", strconv.Itoa(s.Width))
			st.Set("height", strconv.Itoa(s.Height))
			st.Set("framerate", framerates...)
			structures = append(structures, st)
		}
	}

	return pipeline.NewCaps(structures...)
}

// ApplyCaps writes the size and frame rate of fixed caps into p
func ApplyCaps(p *hal.CameraParameters, caps pipeline.Caps) error {
	if p == nil {
		return ErrDeviceNotOpen
	}
	if caps.Size() == 0 {
		return fmt.Errorf("%w: %s", pipeline.ErrInvalidCaps, caps)
	}

	st := caps.Structure(0)
	w, okW := st.Int("width")
	h, okH := st.Int("height")
	if !okW || !okH {
		return fmt.Errorf("%w: %s", ErrNoPreviewSize, st)
	}
	p.Set(hal.KeyPreviewSize, hal.Size{Width: w, Height: h}.String())

	if num, den, ok := st.Fraction("framerate"); ok && den > 0 {
		p.Set(hal.KeyPreviewFrameRate, strconv.Itoa(num/den))
	}
	return nil
}

func preferSize(sizes []hal.Size, want hal.Size) []hal.Size {
	out := []hal.Size{want}
	for _, s := range sizes {
		if s != want {
			out = append(out, s)
		}
	}
	return out
}

func preferRate(rates []int, want int) []int {
	out := []int{want}
	for _, r := range rates {
		if r != want {
			out = append(out, r)
		}
	}
	return out
}
