package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// ============================================================================
// Common
// ============================================================================

var (
	// ErrInternal indicates an unexpected internal error.
	ErrInternal = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryInternal, 0),
		HTTP:      http.StatusInternalServerError,
		GRPCCode:  codes.Internal,
		MessageEN: "Internal error",
		MessageZH: "内部错误",
	})

	// ErrInvalidParam indicates an invalid parameter.
	ErrInvalidParam = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryRequest, 1),
		HTTP:      http.StatusBadRequest,
		GRPCCode:  codes.InvalidArgument,
		MessageEN: "Invalid parameter",
		MessageZH: "参数无效",
	})
)

// ============================================================================
// Scheduler (Service: 03)
// ============================================================================

var (
	// ErrInvalidTrigger is a registration error: empty id, zero due or nil callback.
	ErrInvalidTrigger = NewRequestError(ServiceScheduler, 1).
				Message("Invalid trigger", "无效的触发器").
				MustBuild()

	// ErrInvalidCron indicates an unparsable cron expression.
	ErrInvalidCron = NewRequestError(ServiceScheduler, 2).
			Message("Invalid cron expression", "无效的 cron 表达式").
			MustBuild()

	// ErrClockClosed indicates the clock has been closed.
	ErrClockClosed = NewLifecycleError(ServiceScheduler, 1).
			Message("Clock closed", "时钟已关闭").
			MustBuild()
)

// ============================================================================
// Capability runtime (Service: 05)
// ============================================================================

var (
	// ErrInvalidCapabilityConfig indicates a malformed capability configuration.
	ErrInvalidCapabilityConfig = NewRequestError(ServiceCapability, 1).
					Message("Invalid capability configuration", "无效的能力配置").
					MustBuild()

	// ErrUnknownKind indicates no builder or constructor is registered for a kind.
	ErrUnknownKind = NewConfigError(ServiceCapability, 1).
			Message("No builder registered for kind", "未注册的能力类型").
			MustBuild()

	// ErrDuplicateKind indicates a kind registered twice.
	ErrDuplicateKind = NewConfigError(ServiceCapability, 2).
				Message("Kind already registered", "能力类型已注册").
				MustBuild()

	// ErrRebindFailed indicates a handler update on a cached instance failed.
	ErrRebindFailed = NewBuilder(ServiceCapability, CategoryConflict, 1).
			HTTP(http.StatusConflict).
			GRPC(codes.Aborted).
			Message("Handler rebind failed", "处理器重新绑定失败").
			MustBuild()

	// ErrCapabilityClosed indicates an operation on a closed capability.
	ErrCapabilityClosed = NewLifecycleError(ServiceCapability, 1).
				Message("Capability closed", "能力实例已关闭").
				MustBuild()

	// ErrWakeNotRegistered indicates a wake for a key with no registration.
	ErrWakeNotRegistered = NewNotFoundError(ServiceCapability, 1).
				Message("Wake key not registered", "唤醒键未注册").
				MustBuild()

	// ErrNoReceiver indicates a handler with no live receiver.
	ErrNoReceiver = NewNotFoundError(ServiceCapability, 2).
			Message("No receiver bound", "未绑定接收者").
			MustBuild()

	// ErrWakeFailed indicates an entity's reinitialisation failed.
	ErrWakeFailed = NewBuilder(ServiceCapability, CategoryInternal, 1).
			HTTP(http.StatusInternalServerError).
			GRPC(codes.Internal).
			Message("Wake failed", "唤醒失败").
			MustBuild()

	// ErrNotReceiver indicates a woken entity that cannot receive messages.
	ErrNotReceiver = NewConfigError(ServiceCapability, 3).
			Message("Entity does not implement Receiver", "实体未实现 Receiver").
			MustBuild()
)

// ============================================================================
// Storage (Service: 10)
// ============================================================================

var (
	// ErrStore wraps a failure of a durable store.
	ErrStore = NewDatabaseError(ServiceInfraStorage, 1).
			Message("Store operation failed", "存储操作失败").
			MustBuild()

	// ErrRecordNotFound indicates a missing durable record.
	ErrRecordNotFound = NewNotFoundError(ServiceInfraStorage, 1).
				Message("Record not found", "记录不存在").
				MustBuild()
)
