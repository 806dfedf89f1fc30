package scanner

import (
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

// YaraScanner matches compiled YARA rules against selected filesystem
// roots when a matcher is linked in. No Go YARA binding is vendored in
// this build, so the scanner degrades per the optional-subsystem
// contract: emit a single warning and return rather than refuse to
// register or fabricate a binding (§4.V, §9).
type YaraScanner struct{}

func NewYaraScanner() *YaraScanner { return &YaraScanner{} }

func (s *YaraScanner) Name() string        { return "yara" }
func (s *YaraScanner) Description() string { return "matches compiled YARA rules against selected roots, when available" }

func (s *YaraScanner) Scan(sc *scanctx.ScanContext) error {
	sc.AddWarning(s.Name(), model.UnknownWarning, "YARA matcher is not linked into this build; scanner is a no-op")
	return nil
}
