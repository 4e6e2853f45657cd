package orbit

// InverseRelationship is one edge of the reverse-lookup index: Record holds a
// forward relationship named Relationship whose data links Related. Edges are
// derived from forward data and reconstructable from it, but are persisted in
// a dedicated collection so "what points to this record" stays an O(edges)
// lookup.
type InverseRelationship struct {
	Record       RecordIdentity `json:"record"`
	Relationship string         `json:"relationship"`
	Related      RecordIdentity `json:"relatedRecord"`
}

// EdgeKey returns the deterministic composite key the edge is stored under:
// record key, relationship name and related record key joined with "::".
func (e InverseRelationship) EdgeKey() string {
	return e.Record.Key() + "::" + e.Relationship + "::" + e.Related.Key()
}

// UpdateDetails reports what a settled transform changed, in application
// order, so a downstream layer (sync, remote push) can replay it: the edges
// added to & removed from the inverse relationship index, net of changes that
// canceled out within the transform, and the identities of records whose
// forward data was written or deleted.
type UpdateDetails struct {
	AddedEdges     []InverseRelationship `json:"addedEdges"`
	RemovedEdges   []InverseRelationship `json:"removedEdges"`
	ChangedRecords []RecordIdentity      `json:"changedRecords"`
}

// IsEmpty returns true when the transform changed nothing.
func (ud UpdateDetails) IsEmpty() bool {
	return len(ud.AddedEdges) == 0 && len(ud.RemovedEdges) == 0 && len(ud.ChangedRecords) == 0
}
