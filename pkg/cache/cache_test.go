package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
)

func TestRistretto_SetGetDelete(t *testing.T) {
	c, err := NewRistretto(1<<20, time.Minute, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	ke := &models.KnownError{
		ID:         uuid.New(),
		Title:      "Disk full",
		Symptom:    "disk full on /var",
		Solution:   "rotate logs",
		Category:   models.CategoryHardware,
		Tags:       []string{"disk"},
		UsageCount: 3,
		Visibility: models.VisibilityPublic,
	}
	c.Set(ke)
	c.Wait()

	got, ok := c.Get(ke.ID)
	require.True(t, ok)
	assert.Equal(t, ke.Title, got.Title)
	assert.Equal(t, 3, got.UsageCount)

	got.Title = "mutated"
	again, ok := c.Get(ke.ID)
	require.True(t, ok)
	assert.Equal(t, "Disk full", again.Title, "reads return private copies")

	c.Delete(ke.ID)
	_, ok = c.Get(ke.ID)
	assert.False(t, ok)
}

func TestNoop(t *testing.T) {
	var c KnownErrorCache = Noop{}
	id := uuid.New()
	c.Set(&models.KnownError{ID: id})
	_, ok := c.Get(id)
	assert.False(t, ok)
}
