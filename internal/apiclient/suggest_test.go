package apiclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/pharmacy-storefront/internal/model"
)

func TestSuggester_NewQuerySupersedesOld(t *testing.T) {
	release := make(chan struct{})
	e := echo.New()
	e.GET("/api/products/", func(c echo.Context) error {
		q := c.QueryParam("search")
		if q == "par" {
			// slow: held until the newer query has been answered
			select {
			case <-release:
			case <-c.Request().Context().Done():
			}
		}
		return c.JSON(http.StatusOK, []model.Product{{ID: 1, Name: q + "acetamol"}})
	})
	c := newTestClient(t, e, 2*time.Second)
	s := NewSuggester(c, 5)

	var mu sync.Mutex
	var applied []string
	apply := func(ps []model.Product) {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range ps {
			applied = append(applied, p.Name)
		}
	}

	oldErr := make(chan error, 1)
	go func() { oldErr <- s.Suggest(context.Background(), "par", apply) }()

	// give the first request time to reach the server
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Suggest(context.Background(), "para", apply))
	close(release)

	err := <-oldErr
	assert.True(t, errors.Is(err, ErrSuperseded))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"paraacetamol"}, applied)
}

func TestSuggester_EmptyQueryClears(t *testing.T) {
	c := newTestClient(t, echo.New(), time.Second)
	s := NewSuggester(c, 0)

	called := false
	require.NoError(t, s.Suggest(context.Background(), "   ", func(ps []model.Product) {
		called = true
		assert.Nil(t, ps)
	}))
	assert.True(t, called)
}

func TestSuggester_Limit(t *testing.T) {
	e := echo.New()
	e.GET("/api/products/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, []model.Product{{ID: 1}, {ID: 2}, {ID: 3}})
	})
	c := newTestClient(t, e, time.Second)
	s := NewSuggester(c, 2)

	var got []model.Product
	require.NoError(t, s.Suggest(context.Background(), "vit", func(ps []model.Product) { got = ps }))
	assert.Len(t, got, 2)
}
