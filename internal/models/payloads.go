package models

import (
	"errors"
	"time"
)

// Workout is a training session.
type Workout struct {
	Name           string    `json:"name"`
	Type           string    `json:"type,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	DurationMin    *int      `json:"durationMin,omitempty"`
	CaloriesBurned *int      `json:"caloriesBurned,omitempty"`
	Notes          *string   `json:"notes,omitempty"`
}

// Kind implements Payload.
func (*Workout) Kind() Kind { return KindWorkout }

// Validate reports the first invalid field of a Workout.
func (w *Workout) Validate() error {
	if w.Name == "" {
		return errors.New("workout name is required")
	}
	if w.StartedAt.IsZero() {
		return errors.New("workout startedAt is required")
	}
	if w.DurationMin != nil && *w.DurationMin < 0 {
		return errors.New("workout durationMin must not be negative")
	}
	return nil
}

// Exercise is one movement performed within a workout.
type Exercise struct {
	WorkoutID   string   `json:"workoutId"`
	Name        string   `json:"name"`
	Sets        *int     `json:"sets,omitempty"`
	Reps        *int     `json:"reps,omitempty"`
	WeightKg    *float64 `json:"weightKg,omitempty"`
	DurationSec *int     `json:"durationSec,omitempty"`
}

// Kind implements Payload.
func (*Exercise) Kind() Kind { return KindExercise }

// Validate reports the first invalid field of an Exercise.
func (e *Exercise) Validate() error {
	if e.WorkoutID == "" {
		return errors.New("exercise workoutId is required")
	}
	if e.Name == "" {
		return errors.New("exercise name is required")
	}
	return nil
}

// Meal groups the items eaten at one time.
type Meal struct {
	Name     string    `json:"name"`
	MealType string    `json:"mealType,omitempty"`
	EatenAt  time.Time `json:"eatenAt"`
	Calories *int      `json:"calories,omitempty"`
	Notes    *string   `json:"notes,omitempty"`
}

// Kind implements Payload.
func (*Meal) Kind() Kind { return KindMeal }

// Validate reports the first invalid field of a Meal.
func (m *Meal) Validate() error {
	if m.Name == "" {
		return errors.New("meal name is required")
	}
	if m.EatenAt.IsZero() {
		return errors.New("meal eatenAt is required")
	}
	return nil
}

// MealItem is a single food within a meal.
type MealItem struct {
	MealID   string   `json:"mealId"`
	Name     string   `json:"name"`
	Quantity *float64 `json:"quantity,omitempty"`
	Unit     *string  `json:"unit,omitempty"`
	Calories *int     `json:"calories,omitempty"`
	ProteinG *float64 `json:"proteinG,omitempty"`
	CarbsG   *float64 `json:"carbsG,omitempty"`
	FatG     *float64 `json:"fatG,omitempty"`
}

// Kind implements Payload.
func (*MealItem) Kind() Kind { return KindMealItem }

// Validate reports the first invalid field of a MealItem.
func (m *MealItem) Validate() error {
	if m.MealID == "" {
		return errors.New("meal item mealId is required")
	}
	if m.Name == "" {
		return errors.New("meal item name is required")
	}
	return nil
}

// ProgressLog is a free-form daily check-in.
type ProgressLog struct {
	Date        string  `json:"date"`
	Note        *string `json:"note,omitempty"`
	Mood        *int    `json:"mood,omitempty"`
	EnergyLevel *int    `json:"energyLevel,omitempty"`
}

// Kind implements Payload.
func (*ProgressLog) Kind() Kind { return KindProgressLog }

// Validate reports the first invalid field of a ProgressLog.
func (p *ProgressLog) Validate() error {
	if _, err := time.Parse(time.DateOnly, p.Date); err != nil {
		return errors.New("progress log date must be YYYY-MM-DD")
	}
	return nil
}

// WeightEntry is a body weight measurement.
type WeightEntry struct {
	WeightKg   float64   `json:"weightKg"`
	MeasuredAt time.Time `json:"measuredAt"`
	BodyFatPct *float64  `json:"bodyFatPct,omitempty"`
}

// Kind implements Payload.
func (*WeightEntry) Kind() Kind { return KindWeightEntry }

// Validate reports the first invalid field of a WeightEntry.
func (w *WeightEntry) Validate() error {
	if w.WeightKg <= 0 {
		return errors.New("weightKg must be positive")
	}
	return nil
}

// WaterIntake records water consumed.
type WaterIntake struct {
	AmountMl   int       `json:"amountMl"`
	ConsumedAt time.Time `json:"consumedAt"`
}

// Kind implements Payload.
func (*WaterIntake) Kind() Kind { return KindWaterIntake }

// Validate reports the first invalid field of a WaterIntake.
func (w *WaterIntake) Validate() error {
	if w.AmountMl <= 0 {
		return errors.New("amountMl must be positive")
	}
	return nil
}

// SleepEntry records one night of sleep.
type SleepEntry struct {
	Hours   float64    `json:"hours"`
	Quality *int       `json:"quality,omitempty"`
	SleptAt time.Time  `json:"sleptAt"`
	WokeAt  *time.Time `json:"wokeAt,omitempty"`
}

// Kind implements Payload.
func (*SleepEntry) Kind() Kind { return KindSleepEntry }

// Validate reports the first invalid field of a SleepEntry.
func (s *SleepEntry) Validate() error {
	if s.Hours < 0 || s.Hours > 24 {
		return errors.New("hours must be between 0 and 24")
	}
	if s.WokeAt != nil && s.WokeAt.Before(s.SleptAt) {
		return errors.New("wokeAt must not precede sleptAt")
	}
	return nil
}

// Goal is a user-defined target.
type Goal struct {
	Title       string     `json:"title"`
	Type        string     `json:"type,omitempty"`
	TargetValue *float64   `json:"targetValue,omitempty"`
	Unit        *string    `json:"unit,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Achieved    bool       `json:"achieved"`
}

// Kind implements Payload.
func (*Goal) Kind() Kind { return KindGoal }

// Validate reports the first invalid field of a Goal.
func (g *Goal) Validate() error {
	if g.Title == "" {
		return errors.New("goal title is required")
	}
	return nil
}

// HealthProfile holds slowly changing body metrics.
type HealthProfile struct {
	HeightCm      *float64   `json:"heightCm,omitempty"`
	BirthDate     *time.Time `json:"birthDate,omitempty"`
	Sex           *string    `json:"sex,omitempty"`
	ActivityLevel *string    `json:"activityLevel,omitempty"`
}

// Kind implements Payload.
func (*HealthProfile) Kind() Kind { return KindHealthProfile }

// Validate reports the first invalid field of a HealthProfile.
func (h *HealthProfile) Validate() error {
	if h.HeightCm != nil && *h.HeightCm <= 0 {
		return errors.New("heightCm must be positive")
	}
	return nil
}
