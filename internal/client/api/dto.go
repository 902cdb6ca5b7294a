package api

import "time"

// Wire shapes mirror the server's response DTOs. Timestamps are RFC 3339.

type Folder struct {
	FolderID   int64     `json:"folder_id"`
	FolderName string    `json:"folder_name"`
	ImageCount int64     `json:"image_count"`
	CreatedAt  time.Time `json:"created_at"`
}

type FolderList struct {
	Folders []Folder `json:"folders"`
	Total   int64    `json:"total"`
}

type Image struct {
	ImageID          int64     `json:"image_id"`
	OriginalFilename string    `json:"original_filename"`
	FileURL          string    `json:"file_url"`
	FileSize         int64     `json:"file_size"`
	MimeType         string    `json:"mime_type"`
	HasAnalysis      bool      `json:"has_analysis"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

type ImageList struct {
	Images []Image `json:"images"`
	Total  int64   `json:"total"`
}

type AnalysisSummary struct {
	JobID      int64      `json:"job_id"`
	Status     string     `json:"status"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type AnalysisHistory struct {
	ImageID  int64             `json:"image_id"`
	Analyses []AnalysisSummary `json:"analyses"`
	Total    int64             `json:"total"`
}

type CellCounts struct {
	Viable    int `json:"viable"`
	Apoptosis int `json:"apoptosis"`
	Other     int `json:"other"`
}

type CellPercentages struct {
	Viable    float64 `json:"viable"`
	Apoptosis float64 `json:"apoptosis"`
	Other     float64 `json:"other"`
}

type BoundingBox struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

type RawDetectionData struct {
	BoundingBoxes []BoundingBox `json:"bounding_boxes"`
}

type AnalysisResult struct {
	ResultID      int64             `json:"result_id"`
	JobID         int64             `json:"job_id"`
	ImageID       int64             `json:"image_id"`
	Counts        CellCounts        `json:"counts"`
	TotalCells    int               `json:"total_cells"`
	AvgConfidence float64           `json:"avg_confidence_score"`
	Percentages   CellPercentages   `json:"percentages"`
	RawData       *RawDetectionData `json:"raw_data,omitempty"`
	AnalyzedAt    time.Time         `json:"analyzed_at"`
}

// JobStatusCompleted is the terminal success status in analysis history.
const JobStatusCompleted = "completed"
