package model_test

import (
	"testing"

	"github.com/abi50/pida/internal/model"
)

func TestSeverityRank_TotalOrder(t *testing.T) {
	order := []model.Severity{
		model.SeverityInfo,
		model.SeverityLow,
		model.SeverityMedium,
		model.SeverityHigh,
		model.SeverityCritical,
	}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Fatalf("%s.Rank()=%d should be < %s.Rank()=%d", order[i-1], order[i-1].Rank(), order[i], order[i].Rank())
		}
	}
}

func TestSeverityRank_UnknownRanksAsInfo(t *testing.T) {
	unknown := model.Severity("BOGUS")
	if unknown.Rank() != model.SeverityInfo.Rank() {
		t.Fatalf("unknown severity rank = %d, want %d (INFO)", unknown.Rank(), model.SeverityInfo.Rank())
	}
}

func TestValidSeverity(t *testing.T) {
	for _, s := range []model.Severity{
		model.SeverityInfo, model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical,
	} {
		if !model.ValidSeverity(s) {
			t.Errorf("ValidSeverity(%s) = false, want true", s)
		}
	}
	if model.ValidSeverity(model.Severity("NOPE")) {
		t.Error("ValidSeverity(NOPE) = true, want false")
	}
}

func TestNewAlert_DefaultsNilDetail(t *testing.T) {
	a := model.NewAlert(model.SeverityHigh, "msg", "source", nil)
	if a.Detail == nil {
		t.Fatal("NewAlert with nil detail should default to a non-nil map")
	}
	if a.ID == "" {
		t.Fatal("NewAlert should assign a non-empty ID")
	}
	if a.CreatedAt.IsZero() {
		t.Fatal("NewAlert should set CreatedAt")
	}
}
