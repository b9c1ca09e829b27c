package hal

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Well known parameter keys
const (
	KeyPreviewSize            = "preview-size"
	KeyPreviewSizeValues      = "preview-size-values"
	KeyPreviewFormat          = "preview-format"
	KeyPreviewFormatValues    = "preview-format-values"
	KeyPreviewFrameRate       = "preview-frame-rate"
	KeyPreviewFrameRateValues = "preview-frame-rate-values"
	KeyPreviewFPSRange        = "preview-fps-range"
	KeyPictureSize            = "picture-size"
	KeyPictureFormat          = "picture-format"
)

// Size is a width x height pair
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses "WxH"
func ParseSize(v string) (Size, error) {
	w, h, ok := strings.Cut(strings.TrimSpace(v), "x")
	if !ok {
		return Size{}, fmt.Errorf("hal: invalid size %q", v)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("hal: invalid size %q: %w", v, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("hal: invalid size %q: %w", v, err)
	}
	return Size{Width: width, Height: height}, nil
}

// CameraParameters is the key/value store the HAL exchanges as a single
// "key=value;key=value" string. Key order is preserved. Safe for concurrent
// use.
type CameraParameters struct {
	mu     sync.RWMutex
	keys   []string
	values map[string]string
}

// NewCameraParameters returns an empty store
func NewCameraParameters() *CameraParameters {
	return &CameraParameters{values: make(map[string]string)}
}

// Unflatten parses a flattened parameter string. Entries without '=' are
// ignored.
func Unflatten(flat string) *CameraParameters {
	p := NewCameraParameters()
	for _, entry := range strings.Split(flat, ";") {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		p.Set(key, value)
	}
	return p
}

// Flatten serialises the store back to the HAL wire form
func (p *CameraParameters) Flatten() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var sb strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(p.values[k])
	}
	return sb.String()
}

// Get returns the value of key
func (p *CameraParameters) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// Set stores value under key
func (p *CameraParameters) Set(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Int returns the value of key as an integer
func (p *CameraParameters) Int(key string) (int, bool) {
	v, ok := p.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// List returns a comma separated value split into its elements
func (p *CameraParameters) List(key string) []string {
	v, ok := p.Get(key)
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PreviewSizes returns the supported preview sizes, skipping malformed
// entries.
func (p *CameraParameters) PreviewSizes() []Size {
	var out []Size
	for _, v := range p.List(KeyPreviewSizeValues) {
		if s, err := ParseSize(v); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// PreviewFrameRates returns the supported preview frame rates. When the
// HAL only announces an fps range (in fps*1000) its upper bound is used.
func (p *CameraParameters) PreviewFrameRates() []int {
	var out []int
	for _, v := range p.List(KeyPreviewFrameRateValues) {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			out = append(out, n)
		}
	}
	if len(out) > 0 {
		return out
	}
	if n, ok := p.Int(KeyPreviewFrameRate); ok && n > 0 {
		return []int{n}
	}
	if r := p.List(KeyPreviewFPSRange); len(r) == 2 {
		if max, err := strconv.Atoi(r[1]); err == nil && max >= 1000 {
			return []int{max / 1000}
		}
	}
	return nil
}

// Clone returns an independent copy
func (p *CameraParameters) Clone() *CameraParameters {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := &CameraParameters{
		keys:   append([]string(nil), p.keys...),
		values: make(map[string]string, len(p.values)),
	}
	for k, v := range p.values {
		c.values[k] = v
	}
	return c
}
