package models

const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusDeclined  = "declined"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

const (
	PaymentStatusUnpaid   = "unpaid"
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

const (
	TxStatusPending    = "pending"
	TxStatusProcessing = "processing"
	TxStatusCompleted  = "completed"
	TxStatusFailed     = "failed"
	TxStatusRefunded   = "refunded"
)

const (
	PostingTypeCredit = "credit"
	PostingTypeDebit  = "debit"
	PostingTypeRefund = "refund"
	PostingTypeFee    = "fee"
)

const (
	RoleUser     = "user"
	RoleHospital = "hospital"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

const (
	ResourceBed              = "bed"
	ResourceICUBed           = "icu_bed"
	ResourceOperationTheatre = "operation_theatre"
)

const (
	UrgencyRoutine  = "routine"
	UrgencyUrgent   = "urgent"
	UrgencyCritical = "critical"
)

const (
	ReservationHeld      = "held"
	ReservationCommitted = "committed"
	ReservationReleased  = "released"
)

const (
	ScopeResource  = "resource"
	ScopeFinancial = "financial"
	ScopeRun       = "run"
)

const (
	ReasonResourceUnavailable = "resource unavailable"
	ReasonPaymentTimeout      = "payment not confirmed within window"
	ReasonCapacityShrink      = "capacity reduced below reservations"
)

const (
	// DefaultPlatformFeePercent доля платформы в платеже
	DefaultPlatformFeePercent = 30

	// DefaultPaymentTimeoutSeconds окно ожидания подтверждения платежа
	DefaultPaymentTimeoutSeconds = 30 * 60

	// DefaultReconciliationIntervalSeconds интервал сверки
	DefaultReconciliationIntervalSeconds = 15 * 60

	// DefaultMaxBookingDays максимальный горизонт бронирования
	DefaultMaxBookingDays = 90

	// WorkerQueueSize размер очереди воркера отчетов
	WorkerQueueSize = 128

	// CallbackDedupTTLSeconds время жизни ключа идемпотентности колбэка
	CallbackDedupTTLSeconds = 24 * 60 * 60

	// RateLimitCalls количество вызовов в окне
	RateLimitCalls = 30

	// RateLimitWindowSeconds окно ограничения частоты
	RateLimitWindowSeconds = 60
)
