package model

// Category represents a spending category available in the ledger budget.
type Category struct {
	ID        string
	Name      string
	GroupName string
	Hidden    bool
	Deleted   bool
}
