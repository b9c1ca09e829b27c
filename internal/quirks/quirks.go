// Package quirks loads per-device behaviour toggles from an ini file and
// applies them to an opened camera, either as a parameter value or as a
// vendor command.
//
// Example file:
//
//	[face-detection]
//	direction=-1
//	type=command
//	command_enable=1286
//	arg1_enable=0
//	arg2_enable=0
//	command_disable=1287
//	arg1_disable=0
//	arg2_disable=0
//
//	[image-noise-reduction]
//	direction=0
//	prop=3dnr
//	on=true
//	off=false
package quirks

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/ini.v1"
)

// DirectionAll matches every camera
const DirectionAll = -1

// Quirk ids the element applies by itself
const (
	FaceDetection       = "face-detection"
	ImageNoiseReduction = "image-noise-reduction"
)

// DefaultPath returns the quirks file location under sysconfdir
func DefaultPath(sysconfdir string) string {
	return filepath.Join(sysconfdir, "gst-droid", "gstdroidcamsrcquirks.conf")
}

var ErrQuirkNotFound = errors.New("quirks: quirk not found")

// Type of a quirk
type Type int

const (
	TypeProperty Type = iota
	TypeCommand
)

func (t Type) String() string {
	if t == TypeCommand {
		return "command"
	}
	return "property"
}

// Quirk is one toggle
type Quirk struct {
	ID        string
	Direction int
	Type      Type

	// TypeProperty
	Prop string
	On   string
	Off  string

	// TypeCommand
	CommandEnable  int32
	CommandDisable int32
	Arg1Enable     int32
	Arg2Enable     int32
	Arg1Disable    int32
	Arg2Disable    int32
}

// Matches reports whether the quirk applies to a camera facing direction
func (q *Quirk) Matches(direction int) bool {
	return q.Direction == direction || q.Direction == DirectionAll
}

// Target is what a quirk acts on
type Target interface {
	SetParameter(key, value string) error
	SendCommand(cmd, arg1, arg2 int32) error
}

// Table holds the loaded quirks. Safe for concurrent use.
type Table struct {
	log zerolog.Logger

	mu     sync.RWMutex
	quirks map[string]*Quirk
}

// NewTable returns an empty table
func NewTable(log zerolog.Logger) *Table {
	return &Table{log: log, quirks: make(map[string]*Quirk)}
}

// Load reads the quirks file at path. A file that cannot be read yields an
// empty table together with the error.
func Load(path string, log zerolog.Logger) (*Table, error) {
	t := NewTable(log)
	if err := t.reload(path); err != nil {
		return t, err
	}
	return t, nil
}

// Parse builds a table from ini data
func Parse(data []byte, log zerolog.Logger) (*Table, error) {
	t := NewTable(log)
	if err := t.replace(data); err != nil {
		return t, err
	}
	return t, nil
}

func (t *Table) reload(path string) error {
	quirks, err := t.parse(path)
	if err != nil {
		return fmt.Errorf("quirks: load %s: %w", path, err)
	}
	t.swap(quirks)
	t.log.Info().Str("path", path).Int("quirks", len(quirks)).Msg("quirks loaded")
	return nil
}

func (t *Table) replace(data []byte) error {
	quirks, err := t.parse(data)
	if err != nil {
		return fmt.Errorf("quirks: parse: %w", err)
	}
	t.swap(quirks)
	return nil
}

func (t *Table) swap(quirks map[string]*Quirk) {
	t.mu.Lock()
	t.quirks = quirks
	t.mu.Unlock()
}

func (t *Table) parse(source any) (map[string]*Quirk, error) {
	file, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, source)
	if err != nil {
		return nil, err
	}

	quirks := make(map[string]*Quirk)
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		if q := t.newQuirk(section); q != nil {
			quirks[q.ID] = q
		}
	}
	return quirks, nil
}

func (t *Table) newQuirk(section *ini.Section) *Quirk {
	id := section.Name()
	q := &Quirk{
		ID:        id,
		Direction: int(t.integer(section, "direction")),
	}
	if section.HasKey("type") && section.Key("type").String() == "command" {
		q.Type = TypeCommand
	}

	if q.Type == TypeProperty {
		for _, k := range []string{"prop", "on", "off"} {
			if !section.HasKey(k) {
				t.log.Warn().Str("quirk", id).Str("key", k).Msg("incomplete quirk definition")
				return nil
			}
		}
		q.Prop = section.Key("prop").String()
		q.On = section.Key("on").String()
		q.Off = section.Key("off").String()
		return q
	}

	q.CommandEnable = t.integer(section, "command_enable")
	q.CommandDisable = t.integer(section, "command_disable")
	q.Arg1Enable = t.integer(section, "arg1_enable")
	q.Arg2Enable = t.integer(section, "arg2_enable")
	q.Arg1Disable = t.integer(section, "arg1_disable")
	q.Arg2Disable = t.integer(section, "arg2_disable")
	return q
}

// integer reads an int32 key; missing or malformed values read as 0
func (t *Table) integer(section *ini.Section, key string) int32 {
	if !section.HasKey(key) {
		t.log.Warn().Str("quirk", section.Name()).Str("key", key).Msg("missing quirk key, using 0")
		return 0
	}
	raw := section.Key(key).String()
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		t.log.Warn().Str("quirk", section.Name()).Str("key", key).Str("value", raw).Msg("malformed quirk value, using 0")
		return 0
	}
	return int32(n)
}

// Get returns the quirk with the given id
func (t *Table) Get(id string) (*Quirk, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.quirks[id]
	if !ok {
		return nil, false
	}
	cp := *q
	return &cp, true
}

// IDs returns the loaded quirk ids, sorted
func (t *Table) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.quirks))
	for id := range t.quirks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Apply enables or disables quirk id on target if it applies to the
// camera direction. A quirk for another direction is a no-op.
func (t *Table) Apply(target Target, direction int, id string, enable bool) error {
	q, ok := t.Get(id)
	if !ok {
		t.log.Debug().Str("quirk", id).Msg("quirk not known")
		return fmt.Errorf("%w: %s", ErrQuirkNotFound, id)
	}

	t.log.Info().
		Str("quirk", id).
		Int("quirk_direction", q.Direction).
		Int("direction", direction).
		Bool("enable", enable).
		Msg("applying quirk")

	if !q.Matches(direction) {
		return nil
	}

	switch {
	case q.Type == TypeProperty && enable:
		return target.SetParameter(q.Prop, q.On)
	case q.Type == TypeProperty:
		return target.SetParameter(q.Prop, q.Off)
	case enable:
		return target.SendCommand(q.CommandEnable, q.Arg1Enable, q.Arg2Enable)
	default:
		return target.SendCommand(q.CommandDisable, q.Arg1Disable, q.Arg2Disable)
	}
}
