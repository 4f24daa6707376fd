package services

import (
	"testing"
	"time"

	"mercari-watcher/models"
	"mercari-watcher/utils"
)

func sampleKeywords() []models.Keyword {
	return []models.Keyword{
		{Original: "ゲームボーイ", Translated: "Game Boy"},
		{Original: "ファミコン", Translated: "Famicom"},
		{Original: "スーパーファミコン"},
	}
}

var summaryDate = time.Date(2024, 5, 1, 12, 30, 0, 0, time.Local)

func TestSummaryOrderAndLabels(t *testing.T) {
	svc := NewSummaryService(utils.NewNopLogger())
	r := svc.Generate(summaryDate, map[string]int{
		"スーパーファミコン": 2,
		"removed-b":  1,
		"ゲームボーイ":    3,
		"removed-a":  4,
	}, sampleKeywords())

	want := []models.KeywordCount{
		{Original: "ゲームボーイ", Label: "Game Boy", Count: 3},
		{Original: "スーパーファミコン", Label: "スーパーファミコン", Count: 2},
		{Original: "removed-a", Label: "removed-a", Count: 4},
		{Original: "removed-b", Label: "removed-b", Count: 1},
	}
	if len(r.Keywords) != len(want) {
		t.Fatalf("Keywords: got %d lines, want %d", len(r.Keywords), len(want))
	}
	for i := range want {
		if r.Keywords[i] != want[i] {
			t.Errorf("line %d: got %+v, want %+v", i, r.Keywords[i], want[i])
		}
	}
	if r.Total != 10 {
		t.Errorf("Total: got %d, want 10", r.Total)
	}
}

func TestSummaryFormat(t *testing.T) {
	svc := NewSummaryService(utils.NewNopLogger())
	r := svc.Generate(summaryDate, map[string]int{"ゲームボーイ": 1, "ファミコン": 2}, sampleKeywords())

	got := svc.Format(r)
	want := "📊 Mercari Summary — 2024-05-01\n\n" +
		"• Game Boy: 1 new item\n" +
		"• Famicom: 2 new items"
	if got != want {
		t.Errorf("Format:\ngot  %q\nwant %q", got, want)
	}
}

func TestSummaryEmpty(t *testing.T) {
	svc := NewSummaryService(utils.NewNopLogger())
	r := svc.Generate(summaryDate, map[string]int{}, sampleKeywords())
	if r.Total != 0 || len(r.Keywords) != 0 {
		t.Errorf("expected empty report, got %+v", r)
	}

	want := "📊 Mercari Summary — 2024-05-01\n\nNo activity recorded today."
	if got := svc.Format(r); got != want {
		t.Errorf("Format: got %q, want %q", got, want)
	}
}
