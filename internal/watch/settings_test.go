package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnoelg/watchbridge/internal/storage"
)

func newInbox(t *testing.T, sysLocale string) (*Inbox, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewInbox(s, sysLocale), s
}

func TestLoad_Defaults(t *testing.T) {
	in, _ := newInbox(t, "")

	got, err := in.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), got)
	assert.True(t, got.HHInBold)
	assert.False(t, got.MMInBold)
	assert.Equal(t, LocaleEN, got.Locale)
	assert.Equal(t, TimeSepNone, got.TimeSep)
}

func TestApply_ClassicKeys(t *testing.T) {
	in, _ := newInbox(t, "")

	require.NoError(t, in.Apply(map[string]string{
		"CONFIG_KEY_HH_IN_BOLD": "0",
		"CONFIG_KEY_MM_IN_BOLD": "1",
		"CONFIG_KEY_LOCALE":     "de",
	}))

	got, err := in.Load()
	require.NoError(t, err)
	assert.False(t, got.HHInBold)
	assert.True(t, got.MMInBold)
	assert.Equal(t, LocaleDE, got.Locale)
	assert.True(t, got.LocaleSet)
}

func TestApply_ValueRules(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]string
		check   func(t *testing.T, s Settings)
	}{
		{"hh bold only off for 0", map[string]string{"HH_IN_BOLD": "no"}, func(t *testing.T, s Settings) { assert.True(t, s.HHInBold) }},
		{"mm bold only on for 1", map[string]string{"MM_IN_BOLD": "true"}, func(t *testing.T, s Settings) { assert.False(t, s.MMInBold) }},
		{"strip zero off for 0", map[string]string{"HH_STRIP_ZERO": "0"}, func(t *testing.T, s Settings) { assert.False(t, s.HHStripZero) }},
		{"strip zero on otherwise", map[string]string{"HH_STRIP_ZERO": ""}, func(t *testing.T, s Settings) { assert.True(t, s.HHStripZero) }},
		{"repeat vib", map[string]string{"REPEAT_VIB": "1"}, func(t *testing.T, s Settings) { assert.True(t, s.RepeatVib) }},
		{"time sep roundb", map[string]string{"TIME_SEP": "roundb"}, func(t *testing.T, s Settings) { assert.Equal(t, TimeSepRoundBold, s.TimeSep) }},
		{"time sep squareb", map[string]string{"TIME_SEP": "squareb"}, func(t *testing.T, s Settings) { assert.Equal(t, TimeSepSquareBold, s.TimeSep) }},
		{"time sep unknown", map[string]string{"TIME_SEP": "dots"}, func(t *testing.T, s Settings) { assert.Equal(t, TimeSepNone, s.TimeSep) }},
		{"locale es", map[string]string{"LOCALE": "es"}, func(t *testing.T, s Settings) { assert.Equal(t, LocaleES, s.Locale) }},
		{"locale it", map[string]string{"LOCALE": "it"}, func(t *testing.T, s Settings) { assert.Equal(t, LocaleIT, s.Locale) }},
		{"locale region code is english", map[string]string{"LOCALE": "fr_FR"}, func(t *testing.T, s Settings) {
			assert.Equal(t, LocaleEN, s.Locale)
			assert.True(t, s.LocaleSet)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _ := newInbox(t, "")
			require.NoError(t, in.Apply(tt.payload))
			got, err := in.Load()
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestApply_DefaultLocaleFallsBackToSystem(t *testing.T) {
	in, store := newInbox(t, "it_IT.UTF-8")

	require.NoError(t, in.Apply(map[string]string{"LOCALE": "fr"}))
	got, err := in.Load()
	require.NoError(t, err)
	assert.Equal(t, LocaleFR, got.Locale)

	require.NoError(t, in.Apply(map[string]string{"LOCALE": "default"}))
	_, err = store.GetSetting(KeyLocale)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err = in.Load()
	require.NoError(t, err)
	assert.Equal(t, LocaleIT, got.Locale)
	assert.False(t, got.LocaleSet)
}

func TestApply_MissingKeysUntouched(t *testing.T) {
	in, _ := newInbox(t, "")
	require.NoError(t, in.Apply(map[string]string{"MM_IN_BOLD": "1", "TIME_SEP": "square"}))
	require.NoError(t, in.Apply(map[string]string{"HH_IN_BOLD": "0", "UNKNOWN": "x"}))

	got, err := in.Load()
	require.NoError(t, err)
	assert.False(t, got.HHInBold)
	assert.True(t, got.MMInBold)
	assert.Equal(t, TimeSepSquare, got.TimeSep)
}

func TestSystemLocale(t *testing.T) {
	tests := map[string]Locale{
		"":            LocaleEN,
		"C":           LocaleEN,
		"fr_FR":       LocaleFR,
		"de_DE.UTF-8": LocaleDE,
		"es-ES":       LocaleES,
		"it_IT@euro":  LocaleIT,
		"en_US":       LocaleEN,
		"ja_JP":       LocaleEN,
		"garbage!!":   LocaleEN,
		"POSIX":       LocaleEN,
		// Only the exact regions the watchface compares against count.
		"fr":    LocaleEN,
		"fr_CA": LocaleEN,
		"de-CH": LocaleEN,
		"es_MX": LocaleEN,
	}
	for in, want := range tests {
		assert.Equal(t, want, SystemLocale(in), in)
	}
}
