package httpapi

// Result 统一返回格式
// - code: 2000 成功，-1 失败
// - type: 'success' | 'error'
// - message: string
// - result: any
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

// FailWithDetails 失败并附带字段级错误（校验失败）
func FailWithDetails(message string, details map[string]string) Result[map[string]string] {
	return Result[map[string]string]{Code: ResultError, Type: "error", Message: message, Result: details}
}
