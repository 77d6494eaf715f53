package workflow

import "pharma-scm-api-server/internal/models"

// Action names a workflow operation.
type Action string

const (
	ActionSubmit           Action = "submit"
	ActionApprove          Action = "approve"
	ActionReject           Action = "reject"
	ActionDispatch         Action = "dispatch"
	ActionCompleteDispatch Action = "complete-dispatch"
	ActionRollbackDispatch Action = "rollback-dispatch"
)

type state struct {
	status   models.ApprovalStatus
	shipment models.ShipmentStatus
}

func stateOf(r models.BatchRecord) state {
	return state{status: r.Status, shipment: r.ShipmentStatus}
}

type transition struct {
	roles []models.Role
	from  state
	to    state
}

// Every legal edge of the workflow. Nothing leads to Delivered to Pharmacy:
// delivery confirmation has no trigger yet.
var transitions = map[Action]transition{
	ActionApprove: {
		roles: []models.Role{models.RoleFDA},
		from:  state{models.StatusPending, models.ShipmentNone},
		to:    state{models.StatusApproved, models.ShipmentPendingDistributorPickup},
	},
	ActionReject: {
		roles: []models.Role{models.RoleFDA},
		from:  state{models.StatusPending, models.ShipmentNone},
		to:    state{models.StatusRejected, models.ShipmentNone},
	},
	ActionDispatch: {
		roles: []models.Role{models.RoleDistributor},
		from:  state{models.StatusApproved, models.ShipmentPendingDistributorPickup},
		to:    state{models.StatusApproved, models.ShipmentDispatching},
	},
	ActionCompleteDispatch: {
		roles: []models.Role{models.RoleDistributor},
		from:  state{models.StatusApproved, models.ShipmentDispatching},
		to:    state{models.StatusApproved, models.ShipmentInTransitToPharmacy},
	},
	ActionRollbackDispatch: {
		roles: []models.Role{models.RoleDistributor},
		from:  state{models.StatusApproved, models.ShipmentDispatching},
		to:    state{models.StatusApproved, models.ShipmentPendingDistributorPickup},
	},
}
