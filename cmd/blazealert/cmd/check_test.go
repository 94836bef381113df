package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/models"
)

func sampleReport() *alerting.RunReport {
	return &alerting.RunReport{
		Now: time.Date(2024, 5, 1, 22, 5, 0, 0, time.UTC),
		Outcomes: []alerting.Outcome{
			{AlertID: "a1", TeamID: "t1", Status: alerting.StatusEvaluated, State: models.AlertStateAlert, Groups: 2, Events: 1},
			{AlertID: "a2", TeamID: "t1", Status: alerting.StatusSkipped},
			{AlertID: "a3", TeamID: "t2", Status: alerting.StatusFailed, Err: errors.New("query timeout")},
		},
		Evaluated: 1,
		Skipped:   1,
		Failed:    1,
	}
}

func TestPrintReport_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := printReport(&buf, sampleReport(), "table"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"ALERT", "a1", "ALERT", "query timeout", "1 evaluated, 1 skipped, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printReport(&buf, sampleReport(), "json"); err != nil {
		t.Fatal(err)
	}

	var got reportJSON
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Evaluated != 1 || got.Failed != 1 || len(got.Outcomes) != 3 {
		t.Fatalf("unexpected report: %+v", got)
	}
	if got.Outcomes[0].State != "ALERT" || got.Outcomes[2].Error != "query timeout" {
		t.Errorf("unexpected outcomes: %+v", got.Outcomes)
	}
	if got.Outcomes[1].State != "" {
		t.Errorf("skipped outcome should omit state, got %q", got.Outcomes[1].State)
	}
}

func TestHostname(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"http://ch.internal:8123", "ch.internal"},
		{"https://ch.example.com", "ch.example.com"},
		{"ch.internal:9000", "ch.internal"},
		{"ch.internal", "ch.internal"},
		{"[::1]:9000", "::1"},
	}
	for _, tt := range tests {
		if got := hostname(tt.addr); got != tt.want {
			t.Errorf("hostname(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
