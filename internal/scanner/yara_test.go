package scanner

import (
	"testing"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/config"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
)

func TestYaraScannerDegradesWithWarning(t *testing.T) {
	cfg := config.Default()
	sc := newTestScanContext(t, cfg)

	s := NewYaraScanner()
	if err := s.Scan(sc); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	warnings := sc.Report.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %+v", warnings)
	}
	if warnings[0].Code != model.UnknownWarning {
		t.Errorf("expected UnknownWarning code, got %v", warnings[0].Code)
	}
	if len(sc.Report.Results()) != 0 {
		t.Errorf("stub scanner should not emit findings, got %+v", sc.Report.Results())
	}
}
