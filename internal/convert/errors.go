package convert

import "errors"

// エラーコード一覧。HTTPステータスへの対応付けは http.go の respondWithError が行います。
const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeLimitExceeded         = "LIMIT_EXCEEDED"
	CodeUnsupportedFile       = "UNSUPPORTED_FILE"
	CodeConversionUnavailable = "CONVERSION_UNAVAILABLE"
	CodeConversionFailed      = "CONVERSION_FAILED"
	CodeRasterizationFailed   = "RASTERIZATION_FAILED"
	CodeInternal              = "INTERNAL_ERROR"
)

// Error は変換処理のエラーをコード付きで表します。
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// IsCode は err が指定コードの *Error かどうかを判定します。
func IsCode(err error, code string) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
