package report

import (
	"encoding/json"
	"io"

	"conclave/pkg/scheduler"

	"sigs.k8s.io/yaml"
)

// document is the shape of the JSON and YAML reports.
type document struct {
	Result *scheduler.Result   `json:"result,omitempty"`
	Tasks  []*scheduler.Entry  `json:"tasks"`
	Groups map[string][]string `json:"groups,omitempty"`
}

func newDocument(d *Data) document {
	doc := document{Result: d.Result, Tasks: d.Entries}
	if doc.Tasks == nil {
		doc.Tasks = []*scheduler.Entry{}
	}
	if d.Graph != nil && len(d.Graph.Groups) > 0 {
		doc.Groups = d.Graph.Groups
	}
	return doc
}

// WriteJSON writes the task report and run result as indented JSON.
func WriteJSON(w io.Writer, d *Data) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(newDocument(d))
}

// WriteYAML writes the same document as WriteJSON in YAML.
func WriteYAML(w io.Writer, d *Data) error {
	out, err := yaml.Marshal(newDocument(d))
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
