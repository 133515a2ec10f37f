package booking

const (
	operationCreate       = "create"
	operationCancel       = "cancel"
	operationAvailability = "availability"
	operationComplete     = "complete"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	dayLayout = "2006-01-02"
)
