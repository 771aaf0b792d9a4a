package search

import (
	"errors"
	"time"
)

// ErrNoContext is returned when a query matches no documents in the index.
// The generation workflow aborts on it.
var ErrNoContext = errors.New("no context found for topic")

// Config controls the search client behavior
type Config struct {
	URL      string
	Index    string
	Username string
	Password string
	// Size caps how many hits a query returns
	Size    int
	Timeout time.Duration
}

// Document is a context document retrieved from the index
type Document struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
	Source   string   `json:"source,omitempty"`
	Category string   `json:"category,omitempty"`
	// Score is the lexical relevance score assigned by the index
	Score float64 `json:"score"`
	// Rank is the zero-based position in the original result order
	Rank int `json:"rank"`
}
