package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInfo(t *testing.T) {
	v, c, d := Info()
	assert.Equal(t, GetVersion(), v)
	assert.NotEmpty(t, c)
	assert.NotEmpty(t, d)

	assert.Equal(t, Service+" version="+v+" commit="+c+" date="+d, String())

	fields := Fields()
	assert.Equal(t, Service, fields["service"])
	assert.Equal(t, v, fields["version"])
	assert.Equal(t, c, fields["commit"])
	assert.Equal(t, d, fields["build_date"])
}

func TestLdflagsOverride(t *testing.T) {
	prev := version
	version = "1.4.0"
	t.Cleanup(func() { version = prev })

	assert.Equal(t, "1.4.0", GetVersion())
	assert.Contains(t, String(), "version=1.4.0")
	assert.Equal(t, "1.4.0", Fields()["version"])
}
