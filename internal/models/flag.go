package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// FlagReason explains why a reading was held for review.
type FlagReason uint8

const (
	FlagLowerThanPrevious FlagReason = iota
	FlagExcessiveJump
	FlagPatternMismatch
	FlagTimestampMismatch
	FlagManual

	flagReasonCount
)

var flagReasonNames = [flagReasonCount]string{
	FlagLowerThanPrevious: "lower_than_previous",
	FlagExcessiveJump:     "excessive_jump",
	FlagPatternMismatch:   "pattern_mismatch",
	FlagTimestampMismatch: "timestamp_mismatch",
	FlagManual:            "manual_flag",
}

// AllFlagReasons lists every reason in declaration order.
func AllFlagReasons() []FlagReason {
	out := make([]FlagReason, 0, flagReasonCount)
	for r := FlagReason(0); r < flagReasonCount; r++ {
		out = append(out, r)
	}
	return out
}

func (r FlagReason) String() string {
	if r < flagReasonCount {
		return flagReasonNames[r]
	}
	return fmt.Sprintf("FlagReason(%d)", uint8(r))
}

// Automatic reports whether the validator computes this reason.
func (r FlagReason) Automatic() bool {
	return r != FlagManual && r < flagReasonCount
}

// ParseFlagReason is the inverse of String.
func ParseFlagReason(s string) (FlagReason, error) {
	for r, name := range flagReasonNames {
		if name == s {
			return FlagReason(r), nil
		}
	}
	return 0, &ValidationError{Field: "flag_reasons", Message: "unknown flag reason " + s}
}

// FlagSet is a set of FlagReason values.
type FlagSet uint8

// NewFlagSet builds a set from the given reasons.
func NewFlagSet(reasons ...FlagReason) FlagSet {
	var s FlagSet
	for _, r := range reasons {
		s = s.With(r)
	}
	return s
}

func (s FlagSet) With(r FlagReason) FlagSet { return s | 1<<r }

func (s FlagSet) Has(r FlagReason) bool { return s&(1<<r) != 0 }

func (s FlagSet) Empty() bool { return s == 0 }

// HasAutomatic reports whether any validator-computed reason is present.
func (s FlagSet) HasAutomatic() bool {
	return s&^NewFlagSet(FlagManual) != 0
}

// Reasons returns the members in declaration order.
func (s FlagSet) Reasons() []FlagReason {
	var out []FlagReason
	for _, r := range AllFlagReasons() {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Strings returns the wire names of the members.
func (s FlagSet) Strings() []string {
	out := []string{}
	for _, r := range s.Reasons() {
		out = append(out, r.String())
	}
	return out
}

func (s FlagSet) String() string {
	return strings.Join(s.Strings(), ",")
}

func parseFlagStrings(names []string) (FlagSet, error) {
	var s FlagSet
	for _, n := range names {
		r, err := ParseFlagReason(n)
		if err != nil {
			return 0, err
		}
		s = s.With(r)
	}
	return s, nil
}

func (s FlagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *FlagSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := parseFlagStrings(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s FlagSet) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(s.Strings())
}

func (s *FlagSet) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var names []string
	if err := (bson.RawValue{Type: t, Value: data}).Unmarshal(&names); err != nil {
		return err
	}
	parsed, err := parseFlagStrings(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
