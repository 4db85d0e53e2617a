package alerts

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"sensorwatch/internal/models"
)

// ThresholdsFile is the YAML layout accepted by LoadThresholds:
//
//	thresholds:
//	  temperature: {value: 30, condition: exceeds}
//	  moisture: {value: 40}
type ThresholdsFile struct {
	Thresholds map[string]ThresholdInput `yaml:"thresholds"`
}

// LoadThresholdsFromFile loads threshold inputs from a YAML file.
func LoadThresholdsFromFile(path string) (map[models.Metric]ThresholdInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open thresholds file: %w", err)
	}
	defer f.Close()

	return LoadThresholds(f)
}

// LoadThresholds decodes threshold inputs from YAML. Unknown metrics are an
// error; values are parsed later with the usual lenient rules.
func LoadThresholds(r io.Reader) (map[models.Metric]ThresholdInput, error) {
	var file ThresholdsFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse thresholds YAML: %w", err)
	}

	out := make(map[models.Metric]ThresholdInput, len(file.Thresholds))
	for name, in := range file.Thresholds {
		m := models.Metric(name)
		if !m.IsValid() {
			return nil, fmt.Errorf("unknown metric %q", name)
		}
		out[m] = in
	}
	return out, nil
}
