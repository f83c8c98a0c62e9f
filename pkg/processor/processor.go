package processor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/xhad/clipping/internal/models"
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.RecursiveCharacter
}

var (
	urlRe        = regexp.MustCompile(`http\S+`)
	emailRe      = regexp.MustCompile(`\S+@\S+`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	horizontalRe = regexp.MustCompile(`[^\S\n]+`)
)

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 100
	}
	if len(config.Separators) == 0 {
		config.Separators = []string{"\n\n", "\n", " "}
	}

	return Processor{
		config: config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
			textsplitter.WithSeparators(config.Separators),
		),
	}
}

// Process cleans text and splits it into overlapping chunks ready to embed.
func (p *Processor) Process(text string, meta models.IngestMetadata) (models.ProcessedDocument, error) {
	cleaned := CleanText(text)
	doc := models.ProcessedDocument{ID: meta.URL, Metadata: meta}
	if cleaned == "" {
		return doc, nil
	}

	chunks, err := p.splitter.SplitText(cleaned)
	if err != nil {
		return doc, fmt.Errorf("failed to split text: %w", err)
	}
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			doc.Chunks = append(doc.Chunks, c)
		}
	}
	return doc, nil
}

// CleanText strips links, e-mail addresses and markup, collapses spaces
// and tabs while keeping line breaks, and lower-cases the result. Queries
// go through the same cleaning as ingested text.
func CleanText(text string) string {
	text = urlRe.ReplaceAllString(text, "")
	text = emailRe.ReplaceAllString(text, "")
	text = htmlTagRe.ReplaceAllString(text, " ")
	text = horizontalRe.ReplaceAllString(text, " ")
	return strings.ToLower(strings.TrimSpace(text))
}
