package quirks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigado/blecentral"
)

var _ blecentral.QuirkPolicy = (*Table)(nil)

func TestRetryConnect(t *testing.T) {
	q := Default()
	assert.True(t, q.RetryConnect("SC100", 133, 0))
	assert.True(t, q.RetryConnect("TNG SCALE", 133, 1))
	assert.False(t, q.RetryConnect("BP100", 133, 2))
	assert.False(t, q.RetryConnect("BP100", 8, 0))
	assert.False(t, q.RetryConnect("SC100-X", 133, 0))
	assert.False(t, None().RetryConnect("SC100", 133, 0))
}

func TestBondBeforeConnect(t *testing.T) {
	q := Default()
	assert.True(t, q.BondBeforeConnect("A&D_UA-651BLE_B5583A"))
	assert.True(t, q.BondBeforeConnect("Nonin3230_502"))
	assert.False(t, q.BondBeforeConnect("TD8255"))
	assert.False(t, q.BondBeforeConnect(""))
}

func TestMatchOrder(t *testing.T) {
	q := Default()
	cases := []struct {
		name, id, typ string
	}{
		{"TNG SCALE", "TNG_SCALE", Weight},
		{"TNG", "FORA_TNG_BGM", Glucose},
		{"FORA IR20B", "IR20", Temperature},
		{"A&D_UA-651BLE_B5583A", "UA_651", BloodPressure},
		{"Nonin3230_1", "Nonin3230", PulseOx},
		{"TNG SPO2", "TNG_SPO2", PulseOx},
	}
	for _, c := range cases {
		s, ok := q.Match(c.name)
		require.True(t, ok, c.name)
		assert.Equal(t, c.id, s.ID, c.name)
		assert.Equal(t, c.typ, s.Type, c.name)
	}

	_, ok := q.Match("xNonin3230")
	assert.False(t, ok)
	_, ok = q.Match("TNG BGM")
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	q, err := Parse([]byte(`
retry_names: [Scale]
retry_status: 133
max_retries: 1
bond_before_connect: [BPM]
supported:
  - id: scale
    display: Bathroom Scale
    type: weight
    pattern: /scale.*/i
`))
	require.NoError(t, err)
	assert.True(t, q.RetryConnect("Scale", 133, 0))
	assert.False(t, q.RetryConnect("Scale", 133, 1))
	assert.True(t, q.BondBeforeConnect("My BPM"))

	s, ok := q.Match("SCALE 2000")
	require.True(t, ok)
	assert.Equal(t, "Bathroom Scale", s.Display)

	_, err = Parse([]byte("supported:\n  - id: bad\n    pattern: \"(\"\n"))
	assert.Error(t, err)
}
