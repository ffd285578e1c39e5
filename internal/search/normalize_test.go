package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "termica schneider", Fold("Térmica SCHNEIDER"))
	assert.Equal(t, "niño", Fold("NIÑO"), "ñ survives folding")
	assert.Equal(t, "prolongacion", Fold("prolongación"))
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "disyuntor 2p 16a curva c", NormalizeQuery("  Disyuntor   2P  16A   CURVA C "))
	assert.Equal(t, "", NormalizeQuery("   "))
}
