// Package transport provides HTTP request/response types for the verification domain.
package transport

import "github.com/pendergraft/contraverify/internal/verification/domain"

// VerifyRequest is the HTTP request body for verifying a contract.
type VerifyRequest struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	ConstructorArgs string `json:"constructorArgs,omitempty"`
}

// ToDomain converts VerifyRequest to domain.Request.
func (r VerifyRequest) ToDomain() domain.Request {
	return domain.Request{
		Name:            r.Name,
		Address:         r.Address,
		ConstructorArgs: r.ConstructorArgs,
	}
}

// ReportListResponse is the response for listing stored reports.
type ReportListResponse struct {
	Data       []ReportSummary `json:"data"`
	Pagination Pagination      `json:"pagination"`
}

// ReportSummary is a report in a list.
type ReportSummary struct {
	ID         string `json:"id"`
	ChainID    string `json:"chainId"`
	Contract   string `json:"contract,omitempty"`
	Address    string `json:"address,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt"`
}

// Pagination provides pagination metadata.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
