package model

// Finding is the atomic report unit emitted by a scanner.
type Finding struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	Severity          Severity          `json:"severity"`
	Description       string            `json:"description"`
	Metadata          *OrderedMap       `json:"metadata,omitempty"`
	BaseSeverityScore int               `json:"base_severity_score"`
	OperationalError  bool              `json:"operational_error,omitempty"`
}

// NewFinding builds a Finding with the base score derived from severity,
// and an initialized (empty, order-preserving) metadata map.
func NewFinding(id, title string, sev Severity, description string) Finding {
	return Finding{
		ID:                id,
		Title:             title,
		Severity:          sev,
		Description:       description,
		Metadata:          NewOrderedMap(),
		BaseSeverityScore: sev.BaseScore(),
	}
}

// WithMeta sets a metadata key and returns the Finding for chaining.
func (f Finding) WithMeta(key, value string) Finding {
	f.Metadata.Set(key, value)
	return f
}

// OperationalErrorFinding builds the single Finding the registry emits
// when a scanner fails to complete (§4.G, §7).
func OperationalErrorFinding(scanner string, cause error) Finding {
	f := NewFinding(scanner+":operational_error", "Scanner operational error", High, cause.Error())
	f.OperationalError = true
	return f
}
