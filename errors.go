package taskscope

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeHandlerNotFound           = "HANDLER_NOT_FOUND"
	ErrCodeHandlerDuplicate          = "HANDLER_DUPLICATE"
	ErrCodeHandlerGenericDefinition  = "HANDLER_GENERIC_DEFINITION"
	ErrCodeHandlerTypeMismatch       = "HANDLER_TYPE_MISMATCH"
	ErrCodeHandlerUninitialized      = "HANDLER_UNINITIALIZED"
	ErrCodeHandlerAlreadyInitialized = "HANDLER_ALREADY_INITIALIZED"
	ErrCodeHandlerAlreadyRun         = "HANDLER_ALREADY_RUN"
	ErrCodeDescriptorInvalid         = "DESCRIPTOR_INVALID"
	ErrCodeTypeNameMalformed         = "TYPE_NAME_MALFORMED"
	ErrCodeRegistrySealed            = "REGISTRY_SEALED"
	ErrCodeBackendMissing            = "WORKER_BACKEND_MISSING"
	ErrCodeConfigInvalid             = "CONFIG_INVALID"
	ErrCodeServiceNotRegistered      = "SERVICE_NOT_REGISTERED"
	ErrCodeServiceConstruction       = "SERVICE_CONSTRUCTION_FAILED"
	ErrCodeServiceCircular           = "SERVICE_CIRCULAR_DEPENDENCY"
	ErrCodeServiceScopeRequired      = "SERVICE_SCOPE_REQUIRED"
	ErrCodeScopeExists               = "SCOPE_ALREADY_EXISTS"
	ErrCodeScopeNotFound             = "SCOPE_NOT_FOUND"
	ErrCodeScopeDisposed             = "SCOPE_DISPOSED"
	ErrCodeDispatchPanic             = "DISPATCH_PANIC"
)

var (
	ErrHandlerNotFound = apperrors.New("handler not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeHandlerNotFound)
	ErrHandlerDuplicate = apperrors.New("handler already registered", apperrors.CategoryConflict).
				WithTextCode(ErrCodeHandlerDuplicate)
	ErrHandlerGenericDefinition = apperrors.New("cannot instantiate a generic definition directly", apperrors.CategoryBadInput).
					WithTextCode(ErrCodeHandlerGenericDefinition)
	ErrHandlerTypeMismatch = apperrors.New("resolved instance does not implement the handler contract", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeHandlerTypeMismatch)
	ErrHandlerUninitialized = apperrors.New("uninitialized handler", apperrors.CategoryInternal).
				WithTextCode(ErrCodeHandlerUninitialized)
	ErrHandlerAlreadyInitialized = apperrors.New("handler already initialized", apperrors.CategoryConflict).
					WithTextCode(ErrCodeHandlerAlreadyInitialized)
	ErrHandlerAlreadyRun = apperrors.New("deferred handler already executed", apperrors.CategoryConflict).
				WithTextCode(ErrCodeHandlerAlreadyRun)
	ErrDescriptorInvalid = apperrors.New("invalid handler descriptor", apperrors.CategoryValidation).
				WithTextCode(ErrCodeDescriptorInvalid)
	ErrTypeNameMalformed = apperrors.New("malformed type name", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeTypeNameMalformed)
	ErrRegistrySealed = apperrors.New("registry is sealed", apperrors.CategoryConflict).
				WithTextCode(ErrCodeRegistrySealed)
	ErrBackendMissing = apperrors.New("worker requires an execution backend", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeBackendMissing)
	ErrConfigInvalid = apperrors.New("invalid configuration", apperrors.CategoryValidation).
				WithTextCode(ErrCodeConfigInvalid)
	ErrServiceNotRegistered = apperrors.New("service not registered", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeServiceNotRegistered)
	ErrServiceConstruction = apperrors.New("service constructor failed", apperrors.CategoryInternal).
				WithTextCode(ErrCodeServiceConstruction)
	ErrServiceCircular = apperrors.New("circular dependency detected", apperrors.CategoryConflict).
				WithTextCode(ErrCodeServiceCircular)
	ErrServiceScopeRequired = apperrors.New("scoped service resolved outside of a scope", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeServiceScopeRequired)
	ErrScopeExists = apperrors.New("execution scope already exists", apperrors.CategoryConflict).
			WithTextCode(ErrCodeScopeExists)
	ErrScopeNotFound = apperrors.New("execution scope not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeScopeNotFound)
	ErrScopeDisposed = apperrors.New("scope already disposed", apperrors.CategoryConflict).
				WithTextCode(ErrCodeScopeDisposed)
	ErrDispatchPanic = apperrors.New("panic during dispatch", apperrors.CategoryInternal).
				WithTextCode(ErrCodeDispatchPanic)
)

var (
	configurationCodes = map[string]bool{
		ErrCodeHandlerDuplicate:         true,
		ErrCodeHandlerGenericDefinition: true,
		ErrCodeHandlerTypeMismatch:      true,
		ErrCodeDescriptorInvalid:        true,
		ErrCodeRegistrySealed:           true,
		ErrCodeBackendMissing:           true,
		ErrCodeConfigInvalid:            true,
		ErrCodeServiceNotRegistered:     true,
		ErrCodeServiceCircular:          true,
		ErrCodeServiceScopeRequired:     true,
		ErrCodeScopeExists:              true,
	}
	resolutionCodes = map[string]bool{
		ErrCodeHandlerNotFound:   true,
		ErrCodeTypeNameMalformed: true,
	}
	lifecycleCodes = map[string]bool{
		ErrCodeScopeNotFound:             true,
		ErrCodeScopeDisposed:             true,
		ErrCodeHandlerUninitialized:      true,
		ErrCodeHandlerAlreadyInitialized: true,
		ErrCodeHandlerAlreadyRun:         true,
	}
)

// NewError clones a catalogue error, overriding the message and attaching
// the source error and metadata when provided.
func NewError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrDescriptorInvalid
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of the outermost catalogue error in the chain.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether err carries the given text code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsConfigurationError reports registration and wiring mistakes. These are
// fatal at the call site and never retried.
func IsConfigurationError(err error) bool {
	return configurationCodes[ErrorCode(err)]
}

// IsResolutionError reports failures the engine should treat as "no such handler".
func IsResolutionError(err error) bool {
	return resolutionCodes[ErrorCode(err)]
}

// IsLifecycleError reports scope or handler contract violations.
func IsLifecycleError(err error) bool {
	return lifecycleCodes[ErrorCode(err)]
}
