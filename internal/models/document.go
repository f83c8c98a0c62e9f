package models

import "time"

// IngestMetadata travels with an article into the vector store.
type IngestMetadata struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
	Date   string `json:"date"`
}

// Document is a stored chunk returned from a similarity query.
type Document struct {
	ID         string
	URL        string
	Title      string
	Content    string
	ChunkIndex int
	Score      float64
	Metadata   IngestMetadata
}

type ProcessedDocument struct {
	ID       string
	Metadata IngestMetadata
	Chunks   []string
}

// ArticleFilter selects stored articles for keyword retrieval.
type ArticleFilter struct {
	Categories []string
	Keywords   []string
	Sources    []string
	From       time.Time
	To         time.Time
	Limit      int
}
