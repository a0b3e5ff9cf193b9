package certstore

import "pvacms/model"

// AllowedPrior enumerates, for each reachable target status, the set of
// statuses SetStatus must see as the current value for the transition to
// be legal — the state machine diagram in encoded as data
// instead of a chain of if-statements, so Approve/Deny/Revoke and the
// sweep can all call the same SetStatus with the right guard.
func AllowedPrior(target model.PVAStatus) []model.PVAStatus {
	switch target {
	case model.StatusPending:
		// either no approval was required (direct to PENDING) or an
		// admin approved a PENDING_APPROVAL request.
		return []model.PVAStatus{model.StatusPendingApproval}
	case model.StatusValid:
		return []model.PVAStatus{model.StatusPending}
	case model.StatusExpired:
		return []model.PVAStatus{model.StatusValid}
	case model.StatusRevoked:
		// REVOKE applies from VALID or PENDING; DENY is encoded as the
		// same REVOKED transition starting from PENDING_APPROVAL.
		return []model.PVAStatus{model.StatusValid, model.StatusPending, model.StatusPendingApproval}
	default:
		return nil
	}
}
