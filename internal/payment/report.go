package payment

import "strings"

// StatusReport is the decoded booking status query response.
type StatusReport struct {
	Status  string
	Payment map[string]any
	Raw     map[string]any
}

// ParseStatusReport reads a status response body. A {"data": {...}} envelope
// is unwrapped. Malformed bodies yield an empty report.
func ParseStatusReport(body []byte) StatusReport {
	return ReportFromMap(DecodeObject(body))
}

// ReportFromMap builds a report from an already decoded response.
func ReportFromMap(raw map[string]any) StatusReport {
	if raw == nil {
		return StatusReport{}
	}
	doc := raw
	if _, hasStatus := raw["status"]; !hasStatus {
		if _, hasPayment := raw["payment"]; !hasPayment {
			if data := asObject(raw["data"]); data != nil {
				doc = data
			}
		}
	}
	report := StatusReport{Raw: doc, Payment: asObject(doc["payment"])}
	if s, ok := doc["status"].(string); ok {
		report.Status = strings.TrimSpace(s)
	}
	return report
}

// EffectiveStatus is the top-level status when present, else the payment's.
func (r StatusReport) EffectiveStatus() Status {
	if r.Status != "" {
		return NormalizeStatus(r.Status)
	}
	if r.Payment != nil {
		if s, ok := r.Payment["status"].(string); ok {
			return NormalizeStatus(s)
		}
	}
	return StatusUnknown
}
