package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies one of the syncable entity types.
type Kind string

const (
	KindWorkout       Kind = "workout"
	KindExercise      Kind = "exercise"
	KindMeal          Kind = "meal"
	KindMealItem      Kind = "meal_item"
	KindProgressLog   Kind = "progress_log"
	KindWeightEntry   Kind = "weight_entry"
	KindWaterIntake   Kind = "water_intake"
	KindSleepEntry    Kind = "sleep_entry"
	KindGoal          Kind = "goal"
	KindHealthProfile Kind = "health_profile"
)

// Kinds lists every syncable kind in a stable order.
var Kinds = []Kind{
	KindWorkout,
	KindExercise,
	KindMeal,
	KindMealItem,
	KindProgressLog,
	KindWeightEntry,
	KindWaterIntake,
	KindSleepEntry,
	KindGoal,
	KindHealthProfile,
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k.Table() != ""
}

// Table returns the name of the table holding records of kind k,
// or an empty string for unknown kinds.
func (k Kind) Table() string {
	switch k {
	case KindWorkout:
		return "workouts"
	case KindExercise:
		return "exercises"
	case KindMeal:
		return "meals"
	case KindMealItem:
		return "meal_items"
	case KindProgressLog:
		return "progress_logs"
	case KindWeightEntry:
		return "weight_entries"
	case KindWaterIntake:
		return "water_intakes"
	case KindSleepEntry:
		return "sleep_entries"
	case KindGoal:
		return "goals"
	case KindHealthProfile:
		return "health_profiles"
	}
	return ""
}

// Payload is the domain content of a record of a specific kind.
type Payload interface {
	Kind() Kind
	Validate() error
}

// NewPayload returns an empty payload value for kind k.
func (k Kind) NewPayload() (Payload, error) {
	switch k {
	case KindWorkout:
		return &Workout{}, nil
	case KindExercise:
		return &Exercise{}, nil
	case KindMeal:
		return &Meal{}, nil
	case KindMealItem:
		return &MealItem{}, nil
	case KindProgressLog:
		return &ProgressLog{}, nil
	case KindWeightEntry:
		return &WeightEntry{}, nil
	case KindWaterIntake:
		return &WaterIntake{}, nil
	case KindSleepEntry:
		return &SleepEntry{}, nil
	case KindGoal:
		return &Goal{}, nil
	case KindHealthProfile:
		return &HealthProfile{}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, k)
}

// DecodePayload decodes raw JSON into the payload type registered for kind.
// Unknown fields are rejected.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	p, err := kind.NewPayload()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty %s payload", ErrInvalidRecord, kind)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidRecord, kind, err)
	}
	return p, nil
}

// EncodePayload validates p and encodes it for storage in a Record.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, p.Kind(), err)
	}
	return json.Marshal(p)
}
