package inmem_test

import (
	"testing"

	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/result/inmem"
	"goa.design/ticketflow/runtime/result/resulttest"
)

func TestStore(t *testing.T) {
	resulttest.Run(t, func(*testing.T) result.Store { return inmem.New() })
}
