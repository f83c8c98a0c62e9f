package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/processor"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "El BCE Sube Los Tipos", "el bce sube los tipos"},
		{"urls", "Más en https://www.diario.es/economia hoy", "más en hoy"},
		{"emails", "Escriba a redaccion@diario.es para más", "escriba a para más"},
		{"html tags", "<p>Primer</p><b>párrafo</b>", "primer párrafo"},
		{"keeps line breaks", "Título\n\n  Cuerpo   del\ttexto ", "título\n\n cuerpo del texto"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, processor.CleanText(tt.in))
		})
	}
}

func TestProcessor_Process(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 50, ChunkOverlap: 10})
	meta := models.IngestMetadata{Title: "Tipos", URL: "https://www.diario.es/tipos", Source: "www.diario.es", Date: "2025-03-04"}

	text := "El BCE mantiene los tipos\n\n" + strings.Repeat("El consejo de gobierno decidió esperar a nuevos datos. ", 5)
	doc, err := p.Process(text, meta)
	require.NoError(t, err)

	assert.Equal(t, meta.URL, doc.ID)
	assert.Equal(t, meta, doc.Metadata)
	require.Greater(t, len(doc.Chunks), 1)
	assert.Contains(t, doc.Chunks[0], "el bce mantiene los tipos")
	for _, c := range doc.Chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50)
		assert.Equal(t, strings.ToLower(c), c)
	}
}

func TestProcessor_ProcessEmpty(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})
	doc, err := p.Process("  https://www.diario.es  ", models.IngestMetadata{URL: "u"})
	require.NoError(t, err)
	assert.Empty(t, doc.Chunks)
}
