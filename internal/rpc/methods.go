package rpc

// Method names, all prefixed sbp/.
const (
	MethodEmit             = "sbp/emit"
	MethodSniff            = "sbp/sniff"
	MethodRegisterScent    = "sbp/register_scent"
	MethodDeregisterScent  = "sbp/deregister_scent"
	MethodEvaporate        = "sbp/evaporate"
	MethodInspect          = "sbp/inspect"
	MethodSubscribe        = "sbp/subscribe"
	MethodUnsubscribe      = "sbp/unsubscribe"
	MethodDiagnosePheromone = "sbp/diagnose_pheromone"

	// MethodTrigger is the server-to-client notification method; it is
	// never dispatched inbound, only emitted.
	MethodTrigger = "sbp/trigger"
)
