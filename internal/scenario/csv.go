package scenario

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"

	"github.com/scythe504/dejavu-backend/internal"
)

const csvColumns = 1 + internal.FragmentCount + internal.HintCount + internal.DetailQuestions

// ReadCSV loads a scenario library. Each record is the prompt followed by
// four fragments, four hints and five detail questions. Malformed records
// are skipped.
func ReadCSV(filePath string) ([]Scenario, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("unable to read scenario file %s: %w", filePath, err)
	}
	defer f.Close()

	csvReader := csv.NewReader(f)
	csvReader.FieldsPerRecord = -1
	csvReader.Comment = '#'

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s as CSV: %w", filePath, err)
	}

	var scenarios []Scenario
	for i, record := range records {
		if len(record) != csvColumns {
			log.Printf("[scenario] Skipping record %d: %d columns, want %d", i+1, len(record), csvColumns)
			continue
		}
		s := Scenario{
			Prompt:          record[0],
			Fragments:       record[1 : 1+internal.FragmentCount],
			Hints:           record[1+internal.FragmentCount : 1+internal.FragmentCount+internal.HintCount],
			DetailQuestions: record[1+internal.FragmentCount+internal.HintCount:],
		}
		if err := s.Validate(); err != nil {
			log.Printf("[scenario] Skipping record %d: %v", i+1, err)
			continue
		}
		scenarios = append(scenarios, clone(s))
	}

	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no usable scenarios in %s", filePath)
	}
	return scenarios, nil
}
