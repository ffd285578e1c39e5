package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	in := `<p>Disyuntor <b>bipolar</b> 16A &amp; curva C</p>`
	assert.Equal(t, "Disyuntor bipolar 16A & curva C", CollapseWhitespace(StripHTML(in)))
}

func TestStripHTMLUnknownEntityPassesThrough(t *testing.T) {
	assert.Equal(t, "caf&eacute;", StripHTML("caf&eacute;"))
}

func TestNormalizeAttributes(t *testing.T) {
	out := NormalizeAttributes(map[string]any{
		"Marca":   "  Schneider Electric ",
		"Voltaje": "220 V",
		"POLOS":   2,
		"precio":  15300.0,
		"":        "dropped",
	})
	assert.Equal(t, "Schneider Electric", out["brand"])
	assert.Equal(t, "220 V", out["voltage"])
	assert.Equal(t, 2, out["poles"])
	assert.Equal(t, 15300.0, out["price"])
	assert.NotContains(t, out, "")
	assert.NotContains(t, out, "Marca")
}

func TestContentHashDeterminism(t *testing.T) {
	attrs := map[string]any{"brand": "Legrand", "amperage": "16A"}
	h1 := ContentHash("Térmica 16A", "Curva C bipolar", attrs)
	h2 := ContentHash("Térmica 16A", "Curva C bipolar", attrs)
	assert.Equal(t, h1, h2)

	changed := ContentHash("Térmica 16A", "Curva C bipolar", map[string]any{"brand": "ABB", "amperage": "16A"})
	assert.NotEqual(t, h1, changed)
}

func TestContentHashIgnoresVolatileAttributes(t *testing.T) {
	base := map[string]any{"brand": "Legrand", "price": 9999.0, "stock": 4}
	moved := map[string]any{"brand": "Legrand", "price": 12999.0, "stock": 0}
	assert.Equal(t,
		ContentHash("Térmica", "cuerpo", base),
		ContentHash("Térmica", "cuerpo", moved),
	)
}

func TestBuildEmbedText(t *testing.T) {
	text := BuildEmbedText("Disyuntor 2P", "Protección domiciliaria.", map[string]any{
		"brand":    "Schneider",
		"amperage": "16A",
		"price":    15300.0,
	})
	assert.Equal(t, "Disyuntor 2P\namperage: 16A\nbrand: Schneider\nProtección domiciliaria.", text)
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Cómo elegir una térmica":  "como-elegir-una-termica",
		"  Envíos / Devoluciones ": "envios-devoluciones",
		"16A curva C":              "16a-curva-c",
		"---":                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slug(in), "slug of %q", in)
	}
}
