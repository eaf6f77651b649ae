// Package model defines shared data structures.
package model

import "time"

// StatusOK is the status value the service reports for a successful call.
const StatusOK = "ok"

// Settings holds the resolved runtime settings.
type Settings struct {
	ServiceURL     string
	ServiceTimeout time.Duration
	StoreEngine    string
	StorePath      string
	CaptureWidth   int
	CaptureHeight  int
	TimeFormat     string
	MessageTTL     time.Duration
	LogLevel       string
	KPath          string
}

// Record is a persisted recognition result. Field names follow the
// serialized form kept in the records slot.
type Record struct {
	Text        string `json:"text"`
	Time        string `json:"time"`
	FullImage   string `json:"full_image"`
	ResultImage string `json:"result_image"`
}

// DisplayImage returns the image to show for the record, or "" when none is available.
func (r Record) DisplayImage() string {
	if r.FullImage != "" {
		return r.FullImage
	}
	return r.ResultImage
}

// PlateResult is one detection returned by the recognition endpoint.
type PlateResult struct {
	PlateID int    `json:"plate_id,omitempty"`
	Text    string `json:"text"`
	Image   string `json:"image"`
}

// Sample is a labeled training image.
type Sample struct {
	ImageData string `json:"image_base64"`
	Label     string `json:"label"`
}

// TrainingInfo is the service's cumulative training data snapshot.
type TrainingInfo struct {
	Samples int `json:"samples"`
	Images  int `json:"images"`
}

// EvaluationPoint holds classifier metrics for one hyperparameter value.
type EvaluationPoint struct {
	K         int     `json:"k"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}
