package svg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	in := []byte(`<svg viewBox="0 0 10 10" onload="alert(1)"><script>alert(2)</script><rect onclick='x()' width="1"/></svg>`)
	out, err := Sanitize(in)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "script")
	assert.NotContains(t, string(out), "onload")
	assert.NotContains(t, string(out), "onclick")
	assert.Contains(t, string(out), `<rect width="1"/>`)

	_, err = Sanitize([]byte("<html></html>"))
	assert.ErrorIs(t, err, ErrNotSVG)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate([]byte(`  <svg viewBox="0 0 64 64"><circle r="4"/></svg>`)))
	assert.NoError(t, Validate([]byte(`<?xml version="1.0"?><svg><g/></svg>`)))

	assert.ErrorIs(t, Validate([]byte(`<div><svg></svg></div>`)), ErrNotSVG)
	assert.ErrorIs(t, Validate([]byte(`<svg><image href="a.png"/></svg>`)), ErrRasterEmbedded)
	assert.ErrorIs(t, Validate([]byte(`<svg><use href="https://evil.test/x.svg#a"/></svg>`)), ErrExternalLink)
}
