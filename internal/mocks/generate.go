// Package mocks provides mock implementations of the runfrog core ports.
//
// This package uses go.uber.org/mock (gomock) for type-safe mocks of the
// broker, result backend, analyzer and fetcher interfaces.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	broker := mocks.NewMockBroker(ctrl)
//	broker.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
package mocks

// Broker: Publish, Receive, Ack, Extend, Close
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=broker_mock.go github.com/runfrog/runfrog/internal/core Broker

// ResultBackend: Create, SetStatus, Get, Delete, Close
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=result_backend_mock.go github.com/runfrog/runfrog/internal/core ResultBackend

// Analyzer: Analyze
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=analyzer_mock.go github.com/runfrog/runfrog/internal/core Analyzer

// Fetcher: Fetch
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=fetcher_mock.go github.com/runfrog/runfrog/internal/core Fetcher
