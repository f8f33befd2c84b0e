package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	// "start" / "online" 归一化为 ACTIVE
	assert.Equal(t, StatusActive, NormalizeStatus("start"))
	assert.Equal(t, StatusActive, NormalizeStatus("online"))
	assert.Equal(t, StatusActive, NormalizeStatus("  start  "))

	// 其余一律 ERROR
	assert.Equal(t, StatusError, NormalizeStatus("offline"))
	assert.Equal(t, StatusError, NormalizeStatus("stop"))
	assert.Equal(t, StatusError, NormalizeStatus(""))
	assert.Equal(t, StatusError, NormalizeStatus("Online"))
	assert.Equal(t, StatusError, NormalizeStatus("unknown"))
}
