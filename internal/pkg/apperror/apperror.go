package apperror

// AppError carries the HTTP status and the message shown to the caller.
type AppError struct {
	Code    int
	Message string
	// Err is the underlying cause; it is logged, never returned to the caller.
	Err error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(err error, code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
