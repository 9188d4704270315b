package marks

import (
	"encoding/json"
	"log"
	"os"

	"ChartBridge/internal/model"
)

// FileSource reads positions from a JSON file on every call, so edits to
// the file show up on the next marks pull. The file holds
// {"active": [...], "history": [...]}.
type FileSource struct {
	Path string
}

type positionsFile struct {
	Active  []model.Position `json:"active"`
	History []model.Position `json:"history"`
}

func (s FileSource) load() positionsFile {
	var pf positionsFile
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[WARN] read positions %s: %v", s.Path, err)
		}
		return pf
	}
	if err := json.Unmarshal(data, &pf); err != nil {
		log.Printf("[WARN] decode positions %s: %v", s.Path, err)
		return positionsFile{}
	}
	return pf
}

func (s FileSource) Active() []model.Position  { return s.load().Active }
func (s FileSource) History() []model.Position { return s.load().History }
