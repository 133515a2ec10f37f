package payment

const (
	operationInitiate  = "initiate"
	operationReconcile = "reconcile"
	operationNotify    = "notify"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	referencePrefix = "SB"
)
