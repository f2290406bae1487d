package models

const (
	TagTypeGeneral = "general"

	// ManualTagScore is the confidence given to tags added by hand.
	ManualTagScore = 1.0
)

type Tag struct {
	ID   int64
	Name string
	Type string
}

// ImageTag joins an image to a tag with the tagger's confidence. Images own
// their relations; tags are only referenced.
type ImageTag struct {
	ID      int64
	ImageID int64
	Tag     Tag
	Score   float64
}
