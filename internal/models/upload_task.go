package models

import "time"

type UploadTask struct {
	ID           string    `json:"id"`
	FileName     string    `json:"filename"`
	Size         int64     `json:"size"`
	TempKey      string    `json:"tempKey"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
