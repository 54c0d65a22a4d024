package protocol

import "encoding/json"

// AnalysisSummary is the portion of an analyzer report the hub acts on.
type AnalysisSummary struct {
	TotalLeaks       int     `json:"totalLeaks"`
	TotalLeaksMB     float64 `json:"totalLeaksMB"`
	TotalGrowthMB    float64 `json:"totalGrowthMB"`
	SuspiciousGrowth bool    `json:"suspiciousGrowth"`
	Confidence       float64 `json:"confidence"`
}

// AnalysisReport is the structured result of comparing two heap snapshots.
// Leaks and offenders are passed through verbatim; the hub never interprets
// snapshot internals.
type AnalysisReport struct {
	Summary         AnalysisSummary   `json:"summary"`
	Leaks           []json.RawMessage `json:"leaks"`
	Offenders       []json.RawMessage `json:"offenders"`
	Recommendations []string          `json:"recommendations"`
}
