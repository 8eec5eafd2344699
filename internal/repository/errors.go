package repository

import "errors"

var (
	ErrReportNotFound = errors.New("report not found")
	ErrRecordNotFound = errors.New("record not found")
	ErrSenderNotFound = errors.New("third-party sender not found")
	ErrJobNotFound    = errors.New("reprocess job not found")
	ErrInvalidInput   = errors.New("invalid input parameters")
)
