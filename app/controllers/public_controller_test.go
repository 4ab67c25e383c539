package controllers

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/app/repository/memory"
)

func TestSitemapURLsAreCappedExactly(t *testing.T) {
	data := memory.New()
	for i := 1; i <= 3; i++ {
		data.AddStore(models.Store{
			UserID:   1,
			Slug:     fmt.Sprintf("shop-%d", i),
			Name:     fmt.Sprintf("Shop %d", i),
			IsActive: true,
			Services: []models.StoreService{
				{Slug: "cakes", IsActive: true},
				{Slug: "bread", IsActive: true},
			},
		})
	}
	data.AddStore(models.Store{UserID: 1, Slug: "closed", Name: "Closed"})
	pc := NewPublicController(data, nil, "https://sites.example.com")

	all, err := pc.sitemapURLs(context.Background(), sitemapMaxURLs)
	require.NoError(t, err)
	assert.Len(t, all, 9)

	// The second store alone would take the list from 3 to 6.
	capped, err := pc.sitemapURLs(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, capped, 4)
	assert.Equal(t, all[:4], capped)
	for _, u := range capped {
		assert.NotContains(t, u.Loc, "closed")
	}
}
