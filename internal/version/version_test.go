package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "dev (unknown) built unknown", String())

	old := Version
	Version = "v1.2.0"
	t.Cleanup(func() { Version = old })
	assert.Equal(t, "v1.2.0 (unknown) built unknown", String())
}
