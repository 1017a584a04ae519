package scan

// Merge unions the L1 result and the optional L2 prediction into a single
// combined result. The strategy is union, not intersection: every L1
// detection and the L2 prediction (when present) are retained even when
// they overlap semantically. This preserves explainability and maximizes
// recall, since each layer independently tends to miss different attack
// classes.
func Merge(l1 L1Result, l2 *L2Prediction) CombinedScanResult {
	combined := CombinedScanResult{
		Detections: make([]Detection, 0, len(l1.Detections)+1),
		L1Count:    len(l1.Detections),
	}

	combined.Detections = append(combined.Detections, l1.Detections...)

	if l2 != nil {
		combined.L2 = l2
		combined.L2Count = 1
		combined.Detections = append(combined.Detections, l2.Detection())
	}

	for _, d := range combined.Detections {
		if d.Severity > combined.CombinedSeverity {
			combined.CombinedSeverity = d.Severity
		}
	}

	return combined
}

// TopEntry returns the highest-severity detection for display purposes.
// Ties are broken by preferring the entry with higher confidence; the
// tie-break affects presentation only, never the combined severity.
// Returns false when the result has no entries.
func (c *CombinedScanResult) TopEntry() (Detection, bool) {
	if len(c.Detections) == 0 {
		return Detection{}, false
	}

	top := c.Detections[0]
	for _, d := range c.Detections[1:] {
		if d.Severity > top.Severity ||
			(d.Severity == top.Severity && d.Confidence > top.Confidence) {
			top = d
		}
	}
	return top, true
}
