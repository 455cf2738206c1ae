package application

import (
	alarms "alarm-engine/internal/alarms/domain"
)

// Result is the envelope returned to callers of every operation.
type Result struct {
	Success bool             `json:"success"`
	Code    alarms.ErrorCode `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
	Data    any              `json:"data,omitempty"`
}

// OK wraps a successful payload. Partial batches carry the partial failure code.
func OK(data any) Result {
	res := Result{Success: true, Data: data}
	if b, ok := data.(BatchOutcome); ok && b.BatchStatus() == BatchPartial {
		res.Code = alarms.CodePartialFailure
		res.Message = "some items failed"
	}
	return res
}

// Fail wraps an error.
func Fail(err error) Result {
	return Result{Success: false, Code: alarms.CodeOf(err), Message: err.Error()}
}

// BatchStatus summarizes a batch.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "success"
	BatchPartial BatchStatus = "partial"
	BatchFailed  BatchStatus = "failed"
)

// BatchOutcome is implemented by batch results.
type BatchOutcome interface {
	BatchStatus() BatchStatus
}

// ItemFailure reports one failed batch item.
type ItemFailure struct {
	ID      string           `json:"id"`
	Code    alarms.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func itemFailure(id string, err error) ItemFailure {
	return ItemFailure{ID: id, Code: alarms.CodeOf(err), Message: err.Error()}
}

// BatchResult reports per-item outcomes of a batch over ids.
type BatchResult struct {
	Status    BatchStatus   `json:"status"`
	Total     int           `json:"total"`
	Succeeded []string      `json:"succeeded"`
	Failures  []ItemFailure `json:"failures"`
}

// BatchStatus implements BatchOutcome.
func (b BatchResult) BatchStatus() BatchStatus { return b.Status }

func statusFor(succeeded, failed int) BatchStatus {
	switch {
	case failed == 0:
		return BatchSuccess
	case succeeded == 0:
		return BatchFailed
	default:
		return BatchPartial
	}
}

func newBatchResult(total int, succeeded []string, failures []ItemFailure) BatchResult {
	if succeeded == nil {
		succeeded = []string{}
	}
	if failures == nil {
		failures = []ItemFailure{}
	}
	return BatchResult{
		Status:    statusFor(len(succeeded), len(failures)),
		Total:     total,
		Succeeded: succeeded,
		Failures:  failures,
	}
}
