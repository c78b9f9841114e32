package webhook

import "github.com/stretchr/testify/mock"

// MatchEndpoint creates a custom matcher for endpoint arguments in mocks
func MatchEndpoint(matcher func(Endpoint) bool) interface{} {
	return mock.MatchedBy(matcher)
}

// MatchEvent creates a custom matcher for event arguments in mocks
func MatchEvent(matcher func(Event) bool) interface{} {
	return mock.MatchedBy(matcher)
}

// MatchAttempt creates a custom matcher for attempt arguments in mocks
func MatchAttempt(matcher func(Attempt) bool) interface{} {
	return mock.MatchedBy(matcher)
}

// MatchLog creates a custom matcher for endpoint log entries in mocks
func MatchLog(matcher func(LogEntry) bool) interface{} {
	return mock.MatchedBy(matcher)
}
