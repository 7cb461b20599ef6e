package auth

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
	RoleVendor   Role = "vendor"
	RoleCustomer Role = "customer"
)

type Capability string

const (
	CapManageOrders   Capability = "manage_orders"
	CapAdvanceOrders  Capability = "advance_orders"
	CapRecordPayments Capability = "record_payments"
	CapViewOrders     Capability = "view_orders"
	CapViewAudit      Capability = "view_audit"
)

var roleCaps = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapManageOrders:   true,
		CapAdvanceOrders:  true,
		CapRecordPayments: true,
		CapViewOrders:     true,
		CapViewAudit:      true,
	},
	RoleStaff: {
		CapAdvanceOrders:  true,
		CapRecordPayments: true,
		CapViewOrders:     true,
	},
	RoleVendor:   {},
	RoleCustomer: {},
}

// Actor is the user on whose behalf an operation runs. An empty UserID marks
// the system itself (payment callbacks, background workers).
type Actor struct {
	UserID string
	Email  string
	Role   Role
}

var System = Actor{}

func (a Actor) IsSystem() bool { return a.UserID == "" }

func (a Actor) Can(c Capability) bool {
	return roleCaps[a.Role][c]
}

// Ref is the nullable user reference stored on audit rows.
func (a Actor) Ref() *string {
	if a.IsSystem() {
		return nil
	}
	id := a.UserID
	return &id
}
