package enums

// AuditEvent names an entry in the per-order audit log.
type AuditEvent string

const (
	AuditPaymentCreated       AuditEvent = "PAYMENT_CREATED"
	AuditPaymentCreateFailed  AuditEvent = "PAYMENT_CREATE_FAILED"
	AuditCallbackReceived     AuditEvent = "CALLBACK_RECEIVED"
	AuditCallbackDuplicate    AuditEvent = "CALLBACK_ALREADY_PROCESSED"
	AuditCallbackIgnored      AuditEvent = "CALLBACK_IGNORED"
	AuditSignatureUnverified  AuditEvent = "SIGNATURE_UNVERIFIED"
	AuditPaymentSucceeded     AuditEvent = "PAYMENT_SUCCESS"
	AuditPaymentFailed        AuditEvent = "PAYMENT_FAILED"
	AuditPaymentDiscrepancy   AuditEvent = "PAYMENT_DISCREPANCY"
	AuditDeliverySucceeded    AuditEvent = "DELIVERY_SUCCESS"
	AuditDeliveryFailed       AuditEvent = "DELIVERY_FAILED"
	AuditDeliveryAwaitManual  AuditEvent = "DELIVERY_PENDING_MANUAL"
	AuditDeliveryAlreadyDone  AuditEvent = "DELIVERY_ALREADY_DELIVERED"
	AuditOrderRejected        AuditEvent = "ORDER_REJECTED"
	AuditOrderExpired         AuditEvent = "ORDER_EXPIRED"
	AuditSessionPersistFailed AuditEvent = "PAYMENT_SESSION_PERSIST_FAILED"
)

// AuditActor identifies who caused an audited transition.
type AuditActor string

const (
	ActorSystem AuditActor = "system"
)

// ProviderActor formats a provider identity for the audit log.
func ProviderActor(p PaymentProvider) AuditActor {
	return AuditActor("provider:" + string(p))
}

// AdminActor formats an operator identity for the audit log.
func AdminActor(subject string) AuditActor {
	return AuditActor("admin:" + subject)
}
