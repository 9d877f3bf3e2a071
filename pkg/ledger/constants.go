package ledger

const (
	operationReserve    = "reserve"
	operationCommit     = "commit"
	operationRelease    = "release"
	operationAdjustUsed = "adjust_used"
	operationCreate     = "create_authorization"
	operationAmend      = "amend_total_units"
	operationCancel     = "cancel_authorization"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
