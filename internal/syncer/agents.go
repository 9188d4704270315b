package syncer

import (
	"ChartBridge/internal/model"
	"ChartBridge/internal/store"
	"ChartBridge/internal/widget"
)

const (
	DrawingsNamespace = "chart_drawings"
	StudiesNamespace  = "chart_studies"
)

type drawingEntity struct{}

func (drawingEntity) Capture(w widget.Widget) []model.DrawingRecord { return w.Shapes() }
func (drawingEntity) Name(r model.DrawingRecord) string             { return r.Name }
func (drawingEntity) ID(r model.DrawingRecord) string               { return r.ID }
func (drawingEntity) Event() widget.EventKind                       { return widget.EventDrawing }

func (drawingEntity) Add(w widget.Widget, r model.DrawingRecord) error {
	_, err := w.CreateShape(r)
	return err
}

type studyEntity struct{}

func (studyEntity) Capture(w widget.Widget) []model.StudyRecord { return w.Studies() }
func (studyEntity) Name(r model.StudyRecord) string             { return r.Name }
func (studyEntity) ID(r model.StudyRecord) string               { return r.ID }
func (studyEntity) Event() widget.EventKind                     { return widget.EventStudy }

func (studyEntity) Add(w widget.Widget, r model.StudyRecord) error {
	_, err := w.CreateStudy(r)
	return err
}

// NewDrawings keeps user drawings in the chart_drawings namespace.
func NewDrawings(st store.Store, opts Options) *Synchronizer[model.DrawingRecord] {
	return New[model.DrawingRecord](st, DrawingsNamespace, drawingEntity{}, opts)
}

// NewStudies keeps indicator studies in the chart_studies namespace.
func NewStudies(st store.Store, opts Options) *Synchronizer[model.StudyRecord] {
	return New[model.StudyRecord](st, StudiesNamespace, studyEntity{}, opts)
}
