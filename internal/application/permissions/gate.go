package permissions

// Branch is the single outcome a Gate selects for a protected region.
type Branch int

const (
	BranchLoading Branch = iota
	BranchDenied
	BranchAuthorized
)

func (b Branch) String() string {
	switch b {
	case BranchLoading:
		return "loading"
	case BranchDenied:
		return "denied"
	case BranchAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Gate conditions a protected region on one permission key.
type Gate struct {
	Permission string
}

func Require(permission string) Gate {
	return Gate{Permission: permission}
}

// Decide selects the branch for st. While a load is outstanding nothing
// else is evaluated.
func (g Gate) Decide(st State) Branch {
	if st.Loading {
		return BranchLoading
	}
	if !st.Permissions.Has(g.Permission) {
		return BranchDenied
	}
	return BranchAuthorized
}

// Evaluate runs exactly one of the three constructors. authorized is never
// called unless the gate decides BranchAuthorized, so its side effects stay
// contained.
func Evaluate[T any](g Gate, st State, loading, denied, authorized func() T) T {
	switch g.Decide(st) {
	case BranchLoading:
		return loading()
	case BranchDenied:
		return denied()
	default:
		return authorized()
	}
}
