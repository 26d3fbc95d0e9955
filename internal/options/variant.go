package options

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownVariant is returned by Registry.Lookup for names it does not hold.
var ErrUnknownVariant = errors.New("unknown variant")

// Field maps one option name, as used by the configuration page, to the key
// the watchface expects in the device message.
type Field struct {
	Option string `yaml:"option" json:"option"`
	Key    string `yaml:"key" json:"key"`
}

// Variant is the fixed schema of one bridge flavour: which page it opens,
// which defaults it offers and how options become device message keys.
type Variant struct {
	Name     string  `yaml:"name" json:"name"`
	PageURL  string  `yaml:"page_url" json:"page_url"`
	Defaults Record  `yaml:"defaults" json:"defaults"`
	Fields   []Field `yaml:"fields" json:"fields"`
}

// Built-in variant names.
const (
	Classic  = "classic"
	Extended = "extended"
)

// classicVariant drives the original watchface build (CONFIG_KEY_* keys).
var classicVariant = Variant{
	Name:     Classic,
	PageURL:  "http://jnoelg.github.io/MySimpleWatch/configurable.html",
	Defaults: Record{"hh-in-bold": "1", "mm-in-bold": "0"},
	Fields: []Field{
		{Option: "hh-in-bold", Key: "CONFIG_KEY_HH_IN_BOLD"},
		{Option: "mm-in-bold", Key: "CONFIG_KEY_MM_IN_BOLD"},
		{Option: "locale", Key: "CONFIG_KEY_LOCALE"},
	},
}

// extendedVariant drives the 3.8 watchface build with separator and
// vibration options.
var extendedVariant = Variant{
	Name:     Extended,
	PageURL:  "http://jnoelg.github.io/MySimpleWatch/configurable-3.8.html",
	Defaults: Record{"hh-in-bold": "1"},
	Fields: []Field{
		{Option: "hh-in-bold", Key: "HH_IN_BOLD"},
		{Option: "mm-in-bold", Key: "MM_IN_BOLD"},
		{Option: "locale", Key: "LOCALE"},
		{Option: "hh-strip-zero", Key: "HH_STRIP_ZERO"},
		{Option: "time-sep", Key: "TIME_SEP"},
		{Option: "repeat-vib", Key: "REPEAT_VIB"},
	},
}

// Validate checks that a variant is usable by the bridge.
func (v Variant) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("variant name is required")
	}
	u, err := url.Parse(v.PageURL)
	if err != nil {
		return fmt.Errorf("variant %s: invalid page_url: %w", v.Name, err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("variant %s: page_url %q must be absolute", v.Name, v.PageURL)
	}
	if len(v.Fields) == 0 {
		return fmt.Errorf("variant %s: at least one field is required", v.Name)
	}
	seen := make(map[string]bool, len(v.Fields))
	for _, f := range v.Fields {
		if f.Option == "" || f.Key == "" {
			return fmt.Errorf("variant %s: field needs both option and key", v.Name)
		}
		if seen[f.Key] {
			return fmt.Errorf("variant %s: duplicate message key %s", v.Name, f.Key)
		}
		seen[f.Key] = true
	}
	return nil
}

// Message builds the device message for rec. Options the record does not
// carry are left out of the message and reported in missing.
func (v Variant) Message(rec Record) (msg map[string]string, missing []string) {
	msg = make(map[string]string, len(v.Fields))
	for _, f := range v.Fields {
		val, ok := rec[f.Option]
		if !ok {
			missing = append(missing, f.Option)
			continue
		}
		msg[f.Key] = val
	}
	return msg, missing
}

// Registry holds the variants a bridge can be configured with.
type Registry struct {
	variants map[string]Variant
}

// NewRegistry returns a registry holding the built-in variants.
func NewRegistry() *Registry {
	r := &Registry{variants: make(map[string]Variant)}
	r.variants[classicVariant.Name] = classicVariant
	r.variants[extendedVariant.Name] = extendedVariant
	return r
}

// Add registers v, replacing any variant with the same name.
func (r *Registry) Add(v Variant) error {
	if err := v.Validate(); err != nil {
		return err
	}
	r.variants[v.Name] = v
	return nil
}

// Lookup returns the variant registered under name.
func (r *Registry) Lookup(name string) (Variant, error) {
	v, ok := r.variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	return v, nil
}

// All returns every registered variant sorted by name.
func (r *Registry) All() []Variant {
	out := make([]Variant, 0, len(r.variants))
	for _, v := range r.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type variantsFile struct {
	Variants []Variant `yaml:"variants"`
}

// LoadFile reads additional variants from a YAML file of the form
//
//	variants:
//	  - name: custom
//	    page_url: https://example.com/config.html
//	    defaults: {hh-in-bold: "1"}
//	    fields:
//	      - {option: hh-in-bold, key: HH_IN_BOLD}
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading variants file: %w", err)
	}
	var f variantsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing variants file %s: %w", path, err)
	}
	for _, v := range f.Variants {
		if err := r.Add(v); err != nil {
			return fmt.Errorf("variants file %s: %w", path, err)
		}
	}
	return nil
}
