package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeURIComponent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"hh-in-bold":"1","mm-in-bold":"0"}`, "%7B%22hh-in-bold%22%3A%221%22%2C%22mm-in-bold%22%3A%220%22%7D"},
		{"a b+c", "a%20b%2Bc"},
		{"-_.!~*'()", "-_.!~*'()"},
		{"/?#&=", "%2F%3F%23%26%3D"},
		{"é", "%C3%A9"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EncodeURIComponent(tt.in), "input %q", tt.in)
	}
}

func TestDecodeURIComponent(t *testing.T) {
	got, err := DecodeURIComponent("%7B%22locale%22%3A%22fr%22%7D")
	require.NoError(t, err)
	assert.Equal(t, `{"locale":"fr"}`, got)

	got, err = DecodeURIComponent("a+b%20c")
	require.NoError(t, err)
	assert.Equal(t, "a+b c", got, "plus must not become a space")

	_, err = DecodeURIComponent("%zz")
	assert.Error(t, err)

	// decodeURIComponent throws on sequences that are not UTF-8.
	for _, in := range []string{"%FF%FE", "%C3", "%ED%A0%80", "\xff"} {
		_, err = DecodeURIComponent(in)
		assert.ErrorIs(t, err, ErrInvalidUTF8, "input %q", in)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := `{"locale":"de_DE","time-sep":"roundb","note":"a b&c=d é"}`
	out, err := DecodeURIComponent(EncodeURIComponent(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestConfigURL(t *testing.T) {
	u := ConfigURL("http://example.com/page.html", []byte(`{"a":"1"}`))
	assert.Equal(t, "http://example.com/page.html?%7B%22a%22%3A%221%22%7D", u)
}
