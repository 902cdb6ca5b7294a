package models

import "time"

// AnalysisResult is a read-through cache of a remote AI analysis: one row
// per server image id, replaced wholesale on every successful fetch. It is
// never produced by local action; there is no offline analysis.
type AnalysisResult struct {
	ImageServerID  int64
	JobID          int64
	ViableCount    int
	ApoptosisCount int
	OtherCount     int
	TotalCells     int
	AvgConfidence  float64
	ViablePct      float64
	ApoptosisPct   float64
	OtherPct       float64
	RawDetections  []byte // serialized bounding-box payload, passed through opaque
	AnalyzedAt     time.Time
	CachedAt       time.Time
}
