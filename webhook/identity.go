package webhook

// Identity is the already-authenticated caller. Authentication happens upstream.
type Identity struct {
	OwnerID string
	Admin   bool
}

// AdminIdentity returns an administrator identity, used by internal jobs
func AdminIdentity() Identity {
	return Identity{OwnerID: "system", Admin: true}
}

// CanAccess reports whether the identity may read or mutate the endpoint
func (i Identity) CanAccess(e Endpoint) bool {
	return i.Admin || (i.OwnerID != "" && i.OwnerID == e.OwnerID)
}

func authorize(i Identity, e Endpoint) error {
	if !i.CanAccess(e) {
		return &ForbiddenError{Resource: "endpoint", ID: e.ID}
	}
	return nil
}
