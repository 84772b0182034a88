package domain

// Citation is a (document, page) pair proving where a fact came from.
type Citation struct {
	DocumentID string
	PageNumber int
}

// AuditTrail maps card field names to ordered, de-duplicated citations.
type AuditTrail map[string][]Citation

// Pages returns the cited page numbers for field in order.
func (a AuditTrail) Pages(field string) []int {
	cites := a[field]
	pages := make([]int, len(cites))
	for i, c := range cites {
		pages[i] = c.PageNumber
	}
	return pages
}

// KPIAuditKey is the audit trail key used for a KPI.
func KPIAuditKey(name string) string {
	return "kpi:" + name
}
