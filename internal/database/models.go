package database

import "time"

// RunRecord is one row of the run history.
type RunRecord struct {
	ID          string     `json:"id"`
	SourceName  string     `json:"sourceName"`
	SourceSize  int64      `json:"sourceSize"`
	FrameOffset int        `json:"frameOffset"`
	Brightness  float64    `json:"brightness"`
	Phase       string     `json:"phase"`
	Error       string     `json:"error,omitempty"`
	Frames      int        `json:"frames"`
	Skipped     int        `json:"skipped"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	FrameRate   float64    `json:"frameRate,omitempty"`
	OutputBytes int64      `json:"outputBytes,omitempty"`
	MIMEType    string     `json:"mimeType,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// RunResult holds the fields written when a run reaches a terminal phase.
type RunResult struct {
	Phase       string
	Error       string
	Frames      int
	Skipped     int
	Width       int
	Height      int
	FrameRate   float64
	OutputBytes int64
	MIMEType    string
}

// HistoryStats summarizes the stored history.
type HistoryStats struct {
	TotalRuns     int `json:"totalRuns"`
	CompletedRuns int `json:"completedRuns"`
	FailedRuns    int `json:"failedRuns"`
	CanceledRuns  int `json:"canceledRuns"`
}
