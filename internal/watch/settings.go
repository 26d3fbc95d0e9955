// Package watch emulates the watchface end of the device channel: it applies
// configuration messages to persisted settings the way the watchface does and
// answers each message with an ack or a nack.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/language"

	"github.com/jnoelg/watchbridge/internal/storage"
)

// Persisted setting keys. Messages may use these or their CONFIG_KEY_ form.
const (
	KeyHHInBold    = "HH_IN_BOLD"
	KeyMMInBold    = "MM_IN_BOLD"
	KeyLocale      = "LOCALE"
	KeyHHStripZero = "HH_STRIP_ZERO"
	KeyTimeSep     = "TIME_SEP"
	KeyRepeatVib   = "REPEAT_VIB"
)

const legacyPrefix = "CONFIG_KEY_"

// Locale is the watchface display language, persisted as its index.
type Locale int

const (
	LocaleEN Locale = iota
	LocaleFR
	LocaleDE
	LocaleES
	LocaleIT
)

var localeNames = [...]string{"en", "fr", "de", "es", "it"}

func (l Locale) String() string {
	if l < 0 || int(l) >= len(localeNames) {
		return fmt.Sprintf("Locale(%d)", int(l))
	}
	return localeNames[l]
}

// MarshalText renders the locale by code.
func (l Locale) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// TimeSep is the hour/minute separator style, persisted as its index.
type TimeSep int

const (
	TimeSepNone TimeSep = iota
	TimeSepSquare
	TimeSepRound
	TimeSepSquareBold
	TimeSepRoundBold
)

var timeSepNames = [...]string{"none", "square", "round", "squareb", "roundb"}

func (s TimeSep) String() string {
	if s < 0 || int(s) >= len(timeSepNames) {
		return fmt.Sprintf("TimeSep(%d)", int(s))
	}
	return timeSepNames[s]
}

func (s TimeSep) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings is the effective watchface configuration.
type Settings struct {
	HHInBold    bool    `json:"hh_in_bold"`
	MMInBold    bool    `json:"mm_in_bold"`
	Locale      Locale  `json:"locale"`
	LocaleSet   bool    `json:"locale_set"`
	HHStripZero bool    `json:"hh_strip_zero"`
	TimeSep     TimeSep `json:"time_sep"`
	RepeatVib   bool    `json:"repeat_vib"`
}

// DefaultSettings are used for every setting that was never persisted.
func DefaultSettings() Settings {
	return Settings{HHInBold: true}
}

// SettingsStore persists integer settings. Implemented by storage.Store.
type SettingsStore interface {
	SetSetting(key string, value int) error
	GetSetting(key string) (int, error)
	DeleteSetting(key string) error
}

// Inbox applies received messages to a SettingsStore.
type Inbox struct {
	store        SettingsStore
	systemLocale string
	logger       *slog.Logger
}

// NewInbox creates an Inbox. systemLocale (e.g. "fr_FR") is used when no
// locale has been persisted.
func NewInbox(store SettingsStore, systemLocale string) *Inbox {
	return &Inbox{store: store, systemLocale: systemLocale, logger: slog.Default()}
}

// WithLogger sets the logger used for applied and ignored keys.
func (in *Inbox) WithLogger(l *slog.Logger) *Inbox {
	in.logger = l
	return in
}

func lookup(payload map[string]string, key string) (string, bool) {
	if v, ok := payload[key]; ok {
		return v, true
	}
	v, ok := payload[legacyPrefix+key]
	return v, ok
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Apply persists every recognised key in payload. Unknown keys are ignored.
func (in *Inbox) Apply(payload map[string]string) error {
	if v, ok := lookup(payload, KeyHHInBold); ok {
		in.logger.Debug("received setting", "key", KeyHHInBold, "value", v)
		if err := in.store.SetSetting(KeyHHInBold, boolInt(v != "0")); err != nil {
			return fmt.Errorf("storing %s: %w", KeyHHInBold, err)
		}
	}

	if v, ok := lookup(payload, KeyMMInBold); ok {
		in.logger.Debug("received setting", "key", KeyMMInBold, "value", v)
		if err := in.store.SetSetting(KeyMMInBold, boolInt(v == "1")); err != nil {
			return fmt.Errorf("storing %s: %w", KeyMMInBold, err)
		}
	}

	if v, ok := lookup(payload, KeyLocale); ok {
		in.logger.Debug("received setting", "key", KeyLocale, "value", v)
		var err error
		if v == "default" {
			err = in.store.DeleteSetting(KeyLocale)
		} else {
			err = in.store.SetSetting(KeyLocale, int(localeFromMessage(v)))
		}
		if err != nil {
			return fmt.Errorf("storing %s: %w", KeyLocale, err)
		}
	}

	if v, ok := lookup(payload, KeyHHStripZero); ok {
		in.logger.Debug("received setting", "key", KeyHHStripZero, "value", v)
		if err := in.store.SetSetting(KeyHHStripZero, boolInt(v != "0")); err != nil {
			return fmt.Errorf("storing %s: %w", KeyHHStripZero, err)
		}
	}

	if v, ok := lookup(payload, KeyTimeSep); ok {
		in.logger.Debug("received setting", "key", KeyTimeSep, "value", v)
		if err := in.store.SetSetting(KeyTimeSep, int(timeSepFromMessage(v))); err != nil {
			return fmt.Errorf("storing %s: %w", KeyTimeSep, err)
		}
	}

	if v, ok := lookup(payload, KeyRepeatVib); ok {
		in.logger.Debug("received setting", "key", KeyRepeatVib, "value", v)
		if err := in.store.SetSetting(KeyRepeatVib, boolInt(v == "1")); err != nil {
			return fmt.Errorf("storing %s: %w", KeyRepeatVib, err)
		}
	}
	return nil
}

// localeFromMessage maps the page's locale codes. Only the exact codes are
// recognised; anything else is English.
func localeFromMessage(v string) Locale {
	switch v {
	case "fr":
		return LocaleFR
	case "de":
		return LocaleDE
	case "es":
		return LocaleES
	case "it":
		return LocaleIT
	}
	return LocaleEN
}

func timeSepFromMessage(v string) TimeSep {
	switch v {
	case "square":
		return TimeSepSquare
	case "round":
		return TimeSepRound
	case "squareb":
		return TimeSepSquareBold
	case "roundb":
		return TimeSepRoundBold
	}
	return TimeSepNone
}

// systemLocales are the only host locales the watchface recognises. Other
// regions of the same language, and bare languages, fall back to English.
var systemLocales = map[string]Locale{
	"fr_FR": LocaleFR,
	"de_DE": LocaleDE,
	"es_ES": LocaleES,
	"it_IT": LocaleIT,
}

// SystemLocale maps a host locale such as "fr_FR" or "de-DE.UTF-8" to a
// watchface locale, falling back to English.
func SystemLocale(s string) Locale {
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	tag, err := language.Parse(s)
	if err != nil {
		return LocaleEN
	}
	base, _ := tag.Base()
	region, conf := tag.Region()
	if conf != language.Exact {
		return LocaleEN
	}
	if l, ok := systemLocales[base.String()+"_"+region.String()]; ok {
		return l
	}
	return LocaleEN
}

// Load returns the effective settings.
func (in *Inbox) Load() (Settings, error) {
	s := DefaultSettings()

	readBool := func(key string, dst *bool) error {
		v, err := in.store.GetSetting(key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", key, err)
		}
		*dst = v != 0
		return nil
	}
	readInt := func(key string) (int, bool, error) {
		v, err := in.store.GetSetting(key)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("reading %s: %w", key, err)
		}
		return v, true, nil
	}

	for key, dst := range map[string]*bool{
		KeyHHInBold:    &s.HHInBold,
		KeyMMInBold:    &s.MMInBold,
		KeyHHStripZero: &s.HHStripZero,
		KeyRepeatVib:   &s.RepeatVib,
	} {
		if err := readBool(key, dst); err != nil {
			return Settings{}, err
		}
	}

	loc, ok, err := readInt(KeyLocale)
	if err != nil {
		return Settings{}, err
	}
	if ok {
		s.Locale, s.LocaleSet = Locale(loc), true
	} else {
		s.Locale = SystemLocale(in.systemLocale)
	}

	sep, ok, err := readInt(KeyTimeSep)
	if err != nil {
		return Settings{}, err
	}
	if ok {
		s.TimeSep = TimeSep(sep)
	}
	return s, nil
}
