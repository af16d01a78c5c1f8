package catalog

// validTransitions encodes the design state machine. A design advances only
// along these edges; workers advance it as a side effect of job completion.
var validTransitions = map[Status][]Status{
	StatusDiscovered:  {StatusWanted},
	StatusWanted:      {StatusDownloading},
	StatusDownloading: {StatusDownloaded, StatusWanted, StatusFailed},
	StatusDownloaded:  {StatusExtracting, StatusImporting},
	StatusExtracting:  {StatusExtracted, StatusDownloaded, StatusFailed},
	StatusExtracted:   {StatusImporting},
	StatusImporting:   {StatusOrganized, StatusExtracted, StatusDownloaded, StatusFailed},
	StatusFailed:      {StatusWanted, StatusDownloaded, StatusExtracted},
}

// CanTransition reports whether moving a design from one status to another is
// a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PriorStatus returns the stable state a design rolls back to when the step
// holding an active status is cancelled or reclaimed. The extracted flag
// selects the importer's rollback target, since non-archive content reaches
// importing straight from downloaded.
func PriorStatus(active Status, extracted bool) Status {
	switch active {
	case StatusDownloading:
		return StatusWanted
	case StatusExtracting:
		return StatusDownloaded
	case StatusImporting:
		if extracted {
			return StatusExtracted
		}
		return StatusDownloaded
	default:
		return active
	}
}
