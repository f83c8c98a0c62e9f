package normalizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripAccents(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"canción", "cancion"},
		{"pingüino", "pinguino"},
		{"Ñandú", "Nandu"},
		{"sin acentos", "sin acentos"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripAccents(tt.input))
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", Normalize(""))
		assert.Equal(t, "", Normalize("  ¡¿...?!  "))
	})

	t.Run("drops stopwords", func(t *testing.T) {
		assert.Equal(t, Normalize("banco"), Normalize("el banco de la y"))
	})

	t.Run("accent and case insensitive", func(t *testing.T) {
		assert.Equal(t, Normalize("Hipotecas"), Normalize("hipotecás"))
		assert.Equal(t, Normalize("ENERGÍA"), Normalize("energia"))
	})

	t.Run("punctuation becomes separator", func(t *testing.T) {
		assert.Equal(t, Normalize("banco central"), Normalize("banco,central!"))
	})

	t.Run("inflections share a stem", func(t *testing.T) {
		assert.Equal(t, Normalize("hipoteca"), Normalize("hipotecas"))
		assert.Equal(t, Normalize("eléctrica"), Normalize("eléctricas"))
	})

	t.Run("single spaces", func(t *testing.T) {
		out := Normalize("  bancos \t\n hipotecas   euribor ")
		assert.NotContains(t, out, "  ")
		assert.Len(t, strings.Fields(out), 3)
	})

	t.Run("deterministic", func(t *testing.T) {
		text := "La Comisión Nacional de los Mercados y la Competencia multó a las eléctricas."
		assert.Equal(t, Normalize(text), Normalize(text))
	})
}
