package scorm

import (
	"strconv"
)

// ReportRow is one answered interaction.
type ReportRow struct {
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Submissions int    `json:"submissions_count"`
}

// InteractionReport lists the interactions recorded in every SCO, in SCO
// identifier order.
func InteractionReport(doc Document) []ReportRow {
	var rows []ReportRow
	for _, id := range doc.SCOIDs() {
		data := doc.SCO(id).Data()
		count, err := strconv.Atoi(Lookup(data, KeyInteractions+"_count", "0"))
		if err != nil || count < 0 {
			continue
		}
		for i := 0; i < count; i++ {
			prefix := KeyInteractions + strconv.Itoa(i) + "."
			rows = append(rows, ReportRow{
				Question:    Lookup(data, prefix+"description", ""),
				Answer:      Lookup(data, prefix+"learner_response", ""),
				Submissions: count,
			})
		}
	}
	return rows
}
