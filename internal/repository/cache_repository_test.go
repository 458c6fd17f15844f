package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/parks-console/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()

	var dest []map[string]interface{}
	assert.ErrorIs(t, repo.Get(ctx, "collections:employees:u-1", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "collections:employees:u-1", dest, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(ctx, "collections:employees:*"))
	assert.NoError(t, repo.Ping(ctx))
	assert.NoError(t, repo.Close())
}
