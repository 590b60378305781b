package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Sampling errors
	ErrSampleFailed   ErrorCode = "sample_failed"
	ErrSampleTimeout  ErrorCode = "sample_timeout"
	ErrDriveQuery     ErrorCode = "drive_query_failed"
	ErrProcessListing ErrorCode = "process_listing_failed"

	// Persistence errors
	ErrStatusLoad      ErrorCode = "status_load_failed"
	ErrStatusSave      ErrorCode = "status_save_failed"
	ErrStatusCorrupt   ErrorCode = "status_record_corrupt"
	ErrStatusDangling  ErrorCode = "status_path_dangling"
	ErrStatusReplaced  ErrorCode = "status_record_replaced"
	ErrStatusDirCreate ErrorCode = "status_dir_create_failed"

	// Notification errors
	ErrDispatchFailed ErrorCode = "notification_dispatch_failed"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"

	// Application errors
	ErrInitApp  ErrorCode = "init_app_failed"
	ErrMainLoop ErrorCode = "main_loop_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrUnavailable:      "Service unavailable",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrInvalidConfig:    "Invalid configuration",
	ErrMissingConfig:    "Missing configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read configuration",
	ErrInvalidInterval:  "Invalid interval value",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrSampleFailed:     "Failed to obtain resource sample",
	ErrSampleTimeout:    "Resource sample timed out",
	ErrDriveQuery:       "Failed to query drive free space",
	ErrProcessListing:   "Failed to enumerate processes",
	ErrStatusLoad:       "Failed to load status record",
	ErrStatusSave:       "Failed to save status record",
	ErrStatusCorrupt:    "Status record corrupt, starting fresh",
	ErrStatusDangling:   "Status record references missing directory",
	ErrStatusReplaced:   "Status record replaced with defaults",
	ErrStatusDirCreate:  "Failed to create status directory",
	ErrDispatchFailed:   "Failed to dispatch notification",
	ErrOperationFailed:  "Operation failed",
	ErrTimeout:          "Operation timed out",
	ErrInvalidOperation: "Invalid operation",
	ErrInitApp:          "Failed to initialize application",
	ErrMainLoop:         "Error in main loop",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
