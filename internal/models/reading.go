package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Reading is an accepted hourmeter reading. Readings are never edited; an
// approved amendment writes a new reading that supersedes the disputed one.
type Reading struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	AssetID      primitive.ObjectID  `bson:"asset_id" json:"asset_id"`
	Value        float64             `bson:"value" json:"value"`
	RecordedAt   time.Time           `bson:"recorded_at" json:"recorded_at"`
	SourceJobID  *primitive.ObjectID `bson:"source_job_id,omitempty" json:"source_job_id,omitempty"`
	SubmittedBy  string              `bson:"submitted_by" json:"submitted_by"`
	SupersedesID *primitive.ObjectID `bson:"supersedes_id,omitempty" json:"supersedes_id,omitempty"`
	AmendmentID  *primitive.ObjectID `bson:"amendment_id,omitempty" json:"amendment_id,omitempty"`
	CreatedAt    time.Time           `bson:"created_at" json:"created_at"`
}
