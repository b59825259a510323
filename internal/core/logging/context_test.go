package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetNotificationID(ctx))
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithNotificationID(ctx, "n-1")
	ctx = WithRequestID(ctx, "r-1")

	assert.Equal(t, "n-1", GetNotificationID(ctx))
	assert.Equal(t, "r-1", GetRequestID(ctx))
}
