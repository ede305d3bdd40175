package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// ParseID converts a hex object id supplied by a caller. field names the
// input in the returned ValidationError.
func ParseID(field, hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, &ValidationError{Field: field, Message: "invalid id"}
	}
	return id, nil
}
