package application

// EnqueueEventCommand represents the command to enqueue a ledger event for sync
type EnqueueEventCommand struct {
	EventID          string
	Origin           string
	EventType        string
	MaterialID       string
	Quantity         int64
	SourceLocation   string
	DestLocation     string
	LogicalTimestamp int64
}

// RequeueEntryCommand represents the command to redeliver a dead-lettered entry
type RequeueEntryCommand struct {
	EntryID     string
	RequestedBy string
}

// DiscardEntryCommand represents the command to archive a dead-lettered entry
type DiscardEntryCommand struct {
	EntryID     string
	RequestedBy string
}

// SaveMappingCommand represents the command to create or replace a location mapping
type SaveMappingCommand struct {
	AggregateLocationID string
	Bins                []BinAllocationInput
	Active              bool
}

// BinAllocationInput is one bin share within a mapping command
type BinAllocationInput struct {
	BinLocationID string
	Weight        float64
	Default       bool
}

// ResolveVarianceCommand represents the command to record an operator decision
// on a flagged variance
type ResolveVarianceCommand struct {
	VarianceID string
	Resolution string
	ResolvedBy string
	Note       string
}

// StartRunCommand represents the command to start a reconciliation run
type StartRunCommand struct {
	MaterialIDs          []string
	AggregateLocationIDs []string
}

// GetEntryQuery represents the query to fetch one queue entry
type GetEntryQuery struct {
	EntryID string
}

// ListDeadLettersQuery represents the query to list dead-lettered entries
type ListDeadLettersQuery struct {
	Limit int
}

// GetSnapshotQuery represents the query to build a combined inventory snapshot
type GetSnapshotQuery struct {
	MaterialID          string
	AggregateLocationID string
}

// ListVariancesQuery represents the query to list outstanding variances
type ListVariancesQuery struct {
	Classification string
	Limit          int
}

// ListRunsQuery represents the query to list recent reconciliation runs
type ListRunsQuery struct {
	Limit int
}
