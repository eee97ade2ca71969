package models

import "time"

// ManifestEntry describes one persisted artifact, derived only from the artifact itself.
type ManifestEntry struct {
	Code       string   `json:"code"`
	Exists     bool     `json:"exists"`
	StartDate  string   `json:"start_date,omitempty"`
	EndDate    string   `json:"end_date,omitempty"`
	Count      int      `json:"count"`
	Fields     []string `json:"fields,omitempty"`
	FileSize   int64    `json:"file_size"`
	FileSizeMB float64  `json:"file_size_mb"`
	LargestGap int      `json:"largest_gap_days,omitempty"` // calendar days between the furthest-apart consecutive rows
	Error      string   `json:"error,omitempty"`
}

// Complete reports whether the artifact exists and was read without error.
func (e ManifestEntry) Complete() bool {
	return e.Exists && e.Error == ""
}

// Manifest is the completeness report for an output root.
type Manifest struct {
	GeneratedAt time.Time       `json:"generated_at"`
	OutputDir   string          `json:"output_dir"`
	Format      string          `json:"format"`
	Total       int             `json:"total"`
	Complete    int             `json:"complete"`
	Errored     int             `json:"errored"`
	Entries     []ManifestEntry `json:"entries"`
}

// Tally recomputes the aggregate counts from the entries.
func (m *Manifest) Tally() {
	m.Total = len(m.Entries)
	m.Complete, m.Errored = 0, 0
	for _, e := range m.Entries {
		if e.Complete() {
			m.Complete++
		} else {
			m.Errored++
		}
	}
}

// CoverageRecord is one row of the successful-instrument listing.
type CoverageRecord struct {
	Code  string    `json:"code"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int       `json:"count"`
	File  string    `json:"file"`
}
