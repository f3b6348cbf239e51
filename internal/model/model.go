// Package model holds the job and analysis records shared by the pipeline stages.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAnalyzing Status = "ANALYZING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Sentiment is the normalized evaluation tendency of a call.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Job is one uploaded recording or transcript waiting for analysis.
type Job struct {
	ID         string
	FilePath   string
	Format     string // file extension without the dot: wav, mp3, txt
	Status     Status
	Transcript string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsText reports whether the job carries pre-extracted text instead of audio.
func (j Job) IsText() bool {
	switch strings.ToLower(j.Format) {
	case "txt", "text":
		return true
	}
	return false
}

// Formats accepted at ingest. Everything except wav and txt is converted
// with ffmpeg before transcription.
var Formats = []string{"wav", "mp3", "m4a", "ogg", "flac", "webm", "aac", "txt"}

// SupportedFormat reports whether format is one of Formats.
func SupportedFormat(format string) bool {
	format = strings.ToLower(format)
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// FormatOf derives a job format from a file path.
func FormatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Segment is one transcribed window of audio.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Analysis is the persisted classification of a job. One per job.
type Analysis struct {
	ID           string
	JobID        string
	ProductNames []string
	Sentiment    Sentiment
	Category     string
	Summary      string
	Detail       string
	Source       string // llm-stream, llm-retry, fallback
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
