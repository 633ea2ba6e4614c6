package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 客户/鉴权错误 100xx
	ErrCustomerNotFound = 10002
	ErrAuthFailed       = 10003
	ErrTokenInvalid     = 10004
	ErrNoPermission     = 10005

	// 支付模块错误 300xx
	ErrPaymentNotFound    = 30001
	ErrInvalidAmount      = 30002
	ErrInvalidState       = 30003
	ErrProviderRejected   = 30004
	ErrProviderUnavail    = 30005
	ErrSignatureInvalid   = 30006
	ErrUnsupportedGateway = 30007
	ErrOrderNotFound      = 30008

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
)
