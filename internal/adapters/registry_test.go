package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"mock":              KindMock,
		"creative_engine":   KindMock,
		"gam":               KindGAM,
		"google_ad_manager": KindGAM,
		"GAM":               KindGAM,
		"kevel":             KindKevel,
		"triton":            KindTriton,
		"triton_digital":    KindTriton,
		"xandr":             KindXandr,
	}
	for input, want := range cases {
		got, err := ParseKind(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseKind("adwords")
	assert.ErrorContains(t, err, "unrecognized adapter type")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "mock", KindMock.String())
	assert.Equal(t, "gam", KindGAM.String())
	assert.Equal(t, "kevel", KindKevel.String())
	assert.Equal(t, "triton", KindTriton.String())
	assert.Equal(t, "xandr", KindXandr.String())
}

func TestNewAdapter(t *testing.T) {
	deps := Deps{Logger: quietLogger()}

	a, err := New(KindMock, Config{}, testPrincipal(), deps)
	require.NoError(t, err)
	assert.Equal(t, "mock", a.Name())

	a, err = New(KindKevel, Config{NetworkID: "net", APIKey: "key"}, testPrincipal(), deps)
	require.NoError(t, err)
	assert.Equal(t, "kevel", a.Name())

	// Construction is where credential problems surface.
	_, err = New(KindKevel, Config{}, testPrincipal(), deps)
	assert.Error(t, err)

	_, err = New(KindTriton, Config{}, testPrincipal(), deps)
	assert.Error(t, err)
}
