package errors

// Service codes (AA)
const (
	// ServiceCommon is for common/base errors shared by all subsystems.
	ServiceCommon = 0

	// ServiceScheduler is for the clock and scheduler façade.
	ServiceScheduler = 3

	// ServiceCapability is for capability builders and the wake service.
	ServiceCapability = 5

	// ServiceInfraStorage is for durable stores (redis, sql, etcd).
	ServiceInfraStorage = 10
)

// Category codes (BB)
const (
	CategorySuccess   = 0
	CategoryRequest   = 1
	CategoryResource  = 4
	CategoryConflict  = 5
	CategoryInternal  = 7
	CategoryDatabase  = 8
	CategoryUnavail   = 10
	CategoryTimeout   = 11
	CategoryConfig    = 12
	CategoryLifecycle = 13
)

// MakeCode creates an error code from service, category, and sequence.
// Format: AABBCCC where AA=service, BB=category, CCC=sequence
func MakeCode(service, category, sequence int) int {
	return service*100000 + category*1000 + sequence
}
