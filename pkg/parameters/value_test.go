package parameters_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/parameters"
	"github.com/systmms/dsstore/pkg/provider"
)

type appConfig struct {
	Port  int      `json:"port" yaml:"port"`
	Hosts []string `json:"hosts" yaml:"hosts"`
}

func TestJSONValue(t *testing.T) {
	t.Parallel()

	v, err := parameters.JSONValue(appConfig{Port: 8080, Hosts: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, provider.FormatJSON, v.Format)
	assert.JSONEq(t, `{"port": 8080, "hosts": ["a"]}`, v.String())

	var back appConfig
	require.NoError(t, v.Decode(&back))
	assert.Equal(t, 8080, back.Port)

	v, err = parameters.JSONValue(`{"raw": true}`)
	require.NoError(t, err)
	assert.Equal(t, `{"raw": true}`, v.String())

	_, err = parameters.JSONValue(`{"raw": `)
	assert.Equal(t, errkind.InvalidArgument, errkind.KindOf(err))

	_, err = parameters.JSONValue(make(chan int))
	assert.Equal(t, errkind.InvalidArgument, errkind.KindOf(err))
}

func TestYAMLValue(t *testing.T) {
	t.Parallel()

	v, err := parameters.YAMLValue(appConfig{Port: 443, Hosts: []string{"x", "y"}})
	require.NoError(t, err)
	assert.Equal(t, provider.FormatYAML, v.Format)

	var back appConfig
	require.NoError(t, v.Decode(&back))
	assert.Equal(t, appConfig{Port: 443, Hosts: []string{"x", "y"}}, back)

	_, err = parameters.YAMLValue([]byte("a: [1"))
	assert.Equal(t, errkind.InvalidArgument, errkind.KindOf(err))
}

func TestTextValue_Decode(t *testing.T) {
	t.Parallel()

	v := parameters.TextValue("plain text")

	var s string
	require.NoError(t, v.Decode(&s))
	assert.Equal(t, "plain text", s)

	var b []byte
	require.NoError(t, v.Decode(&b))
	assert.Equal(t, []byte("plain text"), b)

	var cfg appConfig
	assert.Equal(t, errkind.InvalidArgument, errkind.KindOf(v.Decode(&cfg)))
}

func TestValue_GoStringHidesData(t *testing.T) {
	t.Parallel()

	v := parameters.TextValue("s3cret")
	out := fmt.Sprintf("%#v", v)
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "6 bytes")
}
