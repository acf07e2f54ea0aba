package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemAccounts(t *testing.T) {
	assert := assert.New(t)

	for id := range SystemAccounts() {
		assert.True(IsSystemAccount(id))
	}
	assert.True(IsSystemAccount(777000))
	assert.False(IsSystemAccount(12345))

	// callers get a copy
	m := SystemAccounts()
	delete(m, 777000)
	assert.True(IsSystemAccount(777000))
}
