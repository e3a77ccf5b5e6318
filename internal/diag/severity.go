package diag

// Severity orders diagnostics; a larger value is more serious.
type Severity uint8

const (
	SevInfo Severity = iota
	SevWarning
	SevError
)

var severityNames = [...]string{SevInfo: "INFO", SevWarning: "WARNING", SevError: "ERROR"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "UNKNOWN"
}

// AtLeast reports whether s is as serious as min.
func (s Severity) AtLeast(min Severity) bool { return s >= min }
