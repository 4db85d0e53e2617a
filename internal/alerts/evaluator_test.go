package alerts

import (
	"reflect"
	"testing"
	"time"

	"sensorwatch/internal/models"
)

var testTime = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func reading(temp, hum, moist float64) models.Reading {
	return models.Reading{Temperature: temp, Humidity: hum, Moisture: moist, Timestamp: testTime}
}

func set(m models.Metric, v float64, c models.Condition) Threshold {
	return Threshold{Metric: m, Value: v, Condition: c, Set: true}
}

func TestEvaluate_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		thresholds Thresholds
		reading    models.Reading
		want       []models.Metric
		wantConds  []models.Condition
	}{
		{
			name:       "temperature exceeds",
			thresholds: Thresholds{models.MetricTemperature: set(models.MetricTemperature, 30, models.ConditionExceeds)},
			reading:    reading(35, 50, 50),
			want:       []models.Metric{models.MetricTemperature},
			wantConds:  []models.Condition{models.ConditionExceeds},
		},
		{
			name:       "humidity below",
			thresholds: Thresholds{models.MetricHumidity: set(models.MetricHumidity, 30, models.ConditionBelow)},
			reading:    reading(20, 25, 50),
			want:       []models.Metric{models.MetricHumidity},
			wantConds:  []models.Condition{models.ConditionBelow},
		},
		{
			name:       "no thresholds set",
			thresholds: DefaultThresholds(),
			reading:    reading(-100, 1000, -5),
		},
		{
			name:       "nil thresholds",
			thresholds: nil,
			reading:    reading(100, 100, 100),
		},
		{
			name: "both at boundary",
			thresholds: Thresholds{
				models.MetricTemperature: set(models.MetricTemperature, 30, models.ConditionExceeds),
				models.MetricMoisture:    set(models.MetricMoisture, 40, models.ConditionBelow),
			},
			reading: reading(30, 50, 40),
		},
		{
			name: "below at boundary on temperature",
			thresholds: Thresholds{
				models.MetricTemperature: set(models.MetricTemperature, 30, models.ConditionBelow),
			},
			reading: reading(30, 50, 40),
		},
		{
			name: "zero threshold is active",
			thresholds: Thresholds{
				models.MetricTemperature: set(models.MetricTemperature, 0, models.ConditionBelow),
			},
			reading:   reading(-1, 50, 40),
			want:      []models.Metric{models.MetricTemperature},
			wantConds: []models.Condition{models.ConditionBelow},
		},
		{
			name: "all three in fixed order",
			thresholds: Thresholds{
				models.MetricMoisture:    set(models.MetricMoisture, 40, models.ConditionBelow),
				models.MetricHumidity:    set(models.MetricHumidity, 60, models.ConditionExceeds),
				models.MetricTemperature: set(models.MetricTemperature, 30, models.ConditionExceeds),
			},
			reading:   reading(31, 61, 39),
			want:      []models.Metric{models.MetricTemperature, models.MetricHumidity, models.MetricMoisture},
			wantConds: []models.Condition{models.ConditionExceeds, models.ConditionExceeds, models.ConditionBelow},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := Evaluate(tt.reading, tt.thresholds)
			if len(events) != len(tt.want) {
				t.Fatalf("expected %d events, got %d: %+v", len(tt.want), len(events), events)
			}
			for i, ev := range events {
				if ev.Metric != tt.want[i] {
					t.Errorf("event %d: metric = %s, want %s", i, ev.Metric, tt.want[i])
				}
				if ev.Condition != tt.wantConds[i] {
					t.Errorf("event %d: condition = %s, want %s", i, ev.Condition, tt.wantConds[i])
				}
				if !ev.Timestamp.Equal(testTime) {
					t.Errorf("event %d: timestamp = %v, want reading timestamp", i, ev.Timestamp)
				}
			}
		})
	}
}

func TestEvaluate_IsPure(t *testing.T) {
	th := Thresholds{
		models.MetricTemperature: set(models.MetricTemperature, 30, models.ConditionExceeds),
		models.MetricHumidity:    set(models.MetricHumidity, 30, models.ConditionBelow),
	}
	r := reading(35, 20, 50)

	first := Evaluate(r, th)
	second := Evaluate(r, th)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("evaluate not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestEvaluate_Message(t *testing.T) {
	th := Thresholds{models.MetricTemperature: set(models.MetricTemperature, 30, models.ConditionExceeds)}
	events := Evaluate(reading(35, 50, 50), th)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Message != "Temperature exceeds 30°C" {
		t.Errorf("unexpected message %q", events[0].Message)
	}
	if events[0].Value != 35 || events[0].Threshold != 30 {
		t.Errorf("unexpected value/threshold: %+v", events[0])
	}
}

func TestPolicyFilter_EveryTick(t *testing.T) {
	f := NewPolicyFilter(PolicyEveryTick)
	th := Thresholds{models.MetricTemperature: set(models.MetricTemperature, 30, models.ConditionExceeds)}

	for i := 0; i < 3; i++ {
		kept, suppressed := f.Filter(Evaluate(reading(35, 50, 50), th))
		if len(kept) != 1 || len(suppressed) != 0 {
			t.Fatalf("tick %d: expected every breach to fire, got kept=%d suppressed=%d", i, len(kept), len(suppressed))
		}
	}
}

func TestPolicyFilter_OncePerBreach(t *testing.T) {
	f := NewPolicyFilter(PolicyOncePerBreach)
	th := Thresholds{models.MetricTemperature: set(models.MetricTemperature, 30, models.ConditionExceeds)}

	steps := []struct {
		temp     float64
		wantKept int
	}{
		{35, 1}, // enters breach
		{36, 0}, // sustained
		{37, 0}, // sustained
		{29, 0}, // recovers, re-arms
		{31, 1}, // new episode
	}

	for i, s := range steps {
		kept, _ := f.Filter(Evaluate(reading(s.temp, 50, 50), th))
		if len(kept) != s.wantKept {
			t.Errorf("step %d (temp %v): kept %d, want %d", i, s.temp, len(kept), s.wantKept)
		}
	}

	// Changing the threshold starts a new episode.
	th[models.MetricTemperature] = set(models.MetricTemperature, 25, models.ConditionExceeds)
	kept, _ := f.Filter(Evaluate(reading(31, 50, 50), th))
	if len(kept) != 1 {
		t.Errorf("expected threshold change to re-arm, kept %d", len(kept))
	}

	f.Reset()
	kept, _ = f.Filter(Evaluate(reading(31, 50, 50), th))
	if len(kept) != 1 {
		t.Errorf("expected reset to re-arm, kept %d", len(kept))
	}
}

func TestParseBreachPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    BreachPolicy
		wantErr bool
	}{
		{"", PolicyEveryTick, false},
		{"every_tick", PolicyEveryTick, false},
		{" ONCE_PER_BREACH ", PolicyOncePerBreach, false},
		{"debounce", "", true},
	}
	for _, tt := range tests {
		got, err := ParseBreachPolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseBreachPolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
