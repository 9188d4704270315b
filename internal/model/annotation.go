package model

import "encoding/json"

// Point is one anchor of a drawing.
type Point struct {
	Time  int64   `json:"time"`
	Price float64 `json:"price"`
}

// DrawingRecord is a user drawing as persisted per instrument.
type DrawingRecord struct {
	ID      string          `json:"id"`
	Points  []Point         `json:"points"`
	Name    string          `json:"name"`
	Options json.RawMessage `json:"options,omitempty"`
}

// StudyRecord is an indicator/study as persisted per instrument.
type StudyRecord struct {
	ID        string                     `json:"id"`
	Name      string                     `json:"name"`
	IsShown   bool                       `json:"isShown"`
	IsLocked  bool                       `json:"isLocked"`
	Inputs    map[string]json.RawMessage `json:"inputs,omitempty"`
	Overrides map[string]json.RawMessage `json:"overrides,omitempty"`
}
