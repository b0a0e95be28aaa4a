package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

func newTestPortalClient(t *testing.T, handler http.HandlerFunc) (*PortalClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewPortalClient(PortalClientOptions{
		BaseURL:    server.URL,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, nil)
	return client, server
}

func TestGetDealDecodesPortalPayload(t *testing.T) {
	client, _ := newTestPortalClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm.deal.get.json", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var params map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, float64(4242), params["id"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"ID":                "4242",
				"TITLE":             "Boiler retrofit",
				"OPPORTUNITY":       "15300.50",
				"CURRENCY_ID":       "RUB",
				"STAGE_ID":          "C1:STAGE_2",
				"STAGE_SEMANTIC_ID": "P",
				"PROCESSING_STATUS": "OK",
				"IS_FROZEN":         "N",
				"ASSIGNED_BY_ID":    "17",
				"COMPANY_ID":        "900",
				"DATE_CREATE":       "2025-06-01T09:30:00+03:00",
			},
		})
	})

	deal, err := client.GetDeal(context.Background(), 4242)
	require.NoError(t, err)

	assert.Equal(t, int64(4242), deal.ID)
	assert.Equal(t, "Boiler retrofit", deal.Title)
	assert.Equal(t, "15300.5", deal.Amount.String())
	assert.Equal(t, domain.SemanticProspective, deal.StageSemantic)
	assert.Equal(t, domain.StatusOK, deal.Status)
	assert.False(t, deal.Frozen)
	assert.Equal(t, int64(17), deal.AssignedByID)
	assert.Equal(t, int64(900), deal.CompanyID)
	assert.Equal(t, 2025, deal.CreatedAt.Year())
}

func TestGetDealMapsNotFound(t *testing.T) {
	client, _ := newTestPortalClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetDeal(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, domain.IsRemoteNotFound(err))
}

func TestCallMapsEnvelopeErrorCodes(t *testing.T) {
	cases := []struct {
		portalCode string
		want       domain.ErrorCode
	}{
		{"NOT_FOUND", domain.ErrCodeRemoteNotFound},
		{"EXPIRED_TOKEN", domain.ErrCodeRemoteAuth},
		{"INVALID_TOKEN", domain.ErrCodeRemoteAuth},
		{"SOMETHING_ELSE", domain.ErrCodeTransport},
	}

	for _, tc := range cases {
		t.Run(tc.portalCode, func(t *testing.T) {
			client, _ := newTestPortalClient(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":             tc.portalCode,
					"error_description": "portal says no",
				})
			})

			_, err := client.GetDeal(context.Background(), 1)
			require.Error(t, err)
			assert.Equal(t, tc.want, domain.CodeOf(err))
		})
	}
}

func TestCallMapsAuthStatuses(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		client, _ := newTestPortalClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		_, err := client.GetDeal(context.Background(), 1)
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.ErrCodeRemoteAuth))
	}
}

func TestCallRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestPortalClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": true})
	})

	err := client.UpdateDeal(context.Background(), 7, map[string]any{"TITLE": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCallReturnsRateLimitedWhenRetriesExhausted(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestPortalClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := client.UpdateDeal(context.Background(), 7, map[string]any{"TITLE": "x"})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeRateLimited))
	// Intento inicial + MaxRetries.
	assert.Equal(t, int64(3), calls.Load())
}

func TestListDealsPaginates(t *testing.T) {
	client, _ := newTestPortalClient(t, func(w http.ResponseWriter, r *http.Request) {
		var params struct {
			Start int `json:"start"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))

		count := portalPageSize
		if params.Start > 0 {
			count = 3
		}
		page := make([]map[string]any, 0, count)
		for i := 0; i < count; i++ {
			page = append(page, map[string]any{
				"ID":                strconv.Itoa(params.Start + i + 1),
				"STAGE_SEMANTIC_ID": "P",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": page})
	})

	first, cursor, err := client.ListDeals(context.Background(), map[string]any{}, nil, "")
	require.NoError(t, err)
	assert.Len(t, first, portalPageSize)
	require.NotEmpty(t, cursor)

	second, cursor, err := client.ListDeals(context.Background(), map[string]any{}, nil, cursor)
	require.NoError(t, err)
	assert.Len(t, second, 3)
	assert.Empty(t, cursor)
	assert.Equal(t, int64(portalPageSize+1), second[0].ID)
}

func TestGetUserUnwrapsList(t *testing.T) {
	client, _ := newTestPortalClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"ID": "17", "NAME": "I. Petrov", "ACTIVE": "Y", "UF_HEAD": "3"},
			},
		})
	})

	user, err := client.GetUser(context.Background(), 17)
	require.NoError(t, err)
	assert.Equal(t, int64(17), user.ID)
	assert.True(t, user.Active)
	assert.Equal(t, int64(3), user.SupervisorID)
}

func TestGetUserEmptyListIsNotFound(t *testing.T) {
	client, _ := newTestPortalClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": []any{}})
	})

	_, err := client.GetUser(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, domain.IsRemoteNotFound(err))
}
