package rpc

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain guards the goroutines this package's tests spawn (the handler
// body goroutine runHandler starts, also reached via handleDelivery) the
// same way the
// teacher's amqp/session_test.go guards its own, via goleak.VerifyTestMain.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
