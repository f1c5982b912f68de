package clinic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nobat/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.ClinicConfig {
	return config.ClinicConfig{
		ServicesURL:    baseURL + "/services/",
		SlotsURL:       baseURL + "/slots/",
		DiscountURL:    baseURL + "/discount/",
		BookingURL:     baseURL + "/book/",
		CSRFToken:      "test-csrf",
		TimeoutSeconds: 5,
		RateLimit:      config.ClinicRateLimit{RPS: 100, Burst: 100},
	}
}

func TestServicesForGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("group_id"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"services": []map[string]any{
				{"id": 1, "name": "لیزر صورت", "price": 100000, "duration": 15},
				{"id": 2, "name": "لیزر بدن", "price": 250000, "duration": 45},
			},
			"devices":                  []map[string]any{{"id": 7, "name": "الکس"}},
			"has_devices":              true,
			"allow_multiple_selection": true,
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	info, err := client.ServicesForGroup(context.Background(), 3)

	require.NoError(t, err)
	require.Len(t, info.Services, 2)
	assert.Equal(t, int64(100000), info.Services[0].Price)
	assert.Equal(t, 45, info.Services[1].Duration)
	require.Len(t, info.Devices, 1)
	assert.True(t, info.HasDevices)
	assert.True(t, info.AllowMultiple)
}

func TestServicesForGroupCached(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"services": []map[string]any{{"id": 1, "name": "لیزر صورت", "price": 100000, "duration": 15}},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	client.UseRedisCache(redisClient, time.Minute)

	for i := 0; i < 3; i++ {
		info, err := client.ServicesForGroup(context.Background(), 3)
		require.NoError(t, err)
		require.Len(t, info.Services, 1)
	}
	assert.Equal(t, 1, hits, "repeat lookups must come from cache")
}

func TestAvailableSlots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"1", "2"}, r.URL.Query()["service_ids[]"])
		assert.Equal(t, "7", r.URL.Query().Get("device_id"))

		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"start": "2024-03-20T11:00:00+03:30", "readable_start": "۱۱:۰۰"},
			{"start": "2024-03-21T09:30:00+03:30"},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	slots, err := client.AvailableSlots(context.Background(), []int64{1, 2}, 7)

	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "۱۱:۰۰", slots[0].ReadableStart)
	assert.Equal(t, 11, slots[0].Start.Hour())
	assert.True(t, slots[0].Start.Before(slots[1].Start))
}

func TestAvailableSlotsBadTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{"start": "tomorrow"}})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.AvailableSlots(context.Background(), []int64{1}, 0)
	assert.Error(t, err)
}

func TestApplyDiscount(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "SPRING", r.PostForm.Get("code"))
			assert.Equal(t, "250000", r.PostForm.Get("total_price"))
			assert.Equal(t, "test-csrf", r.PostForm.Get("csrfmiddlewaretoken"))

			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "discount_amount": 50000})
		}))
		defer srv.Close()

		client := NewClient(testConfig(srv.URL))
		amount, err := client.ApplyDiscount(context.Background(), "SPRING", 250000)

		require.NoError(t, err)
		assert.Equal(t, int64(50000), amount)
	})

	t.Run("InvalidCodeCarriesMessage", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "کد تخفیف معتبر نیست"})
		}))
		defer srv.Close()

		client := NewClient(testConfig(srv.URL))
		_, err := client.ApplyDiscount(context.Background(), "BOGUS", 250000)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "کد تخفیف معتبر نیست", apiErr.Message)
	})

	t.Run("ServerErrorHasNoMessage", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := NewClient(testConfig(srv.URL))
		_, err := client.ApplyDiscount(context.Background(), "SPRING", 250000)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Empty(t, apiErr.Message)
	})
}

func TestSubmitBooking(t *testing.T) {
	var posted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		posted = true

		assert.Equal(t, []string{"1", "2"}, r.PostForm["services[]"])
		assert.Equal(t, "7", r.PostForm.Get("device"))
		assert.Equal(t, "1403-01-01", r.PostForm.Get("date"))
		assert.Equal(t, "on", r.PostForm.Get("apply_points"))
		assert.Equal(t, "SPRING", r.PostForm.Get("discount_code"))
		assert.Equal(t, "test-csrf", r.Header.Get("X-CSRFToken"))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	err := client.SubmitBooking(context.Background(), BookingForm{
		ServiceIDs:   []int64{1, 2},
		DeviceID:     7,
		SlotStart:    time.Date(2024, 3, 20, 11, 0, 0, 0, time.UTC),
		DateKey:      "1403-01-01",
		ApplyPoints:  true,
		DiscountCode: "SPRING",
	})

	require.NoError(t, err)
	assert.True(t, posted)
}

func TestSubmitBookingOmitsOptionalFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.False(t, r.PostForm.Has("device"))
		assert.False(t, r.PostForm.Has("apply_points"))
		assert.False(t, r.PostForm.Has("discount_code"))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	err := client.SubmitBooking(context.Background(), BookingForm{
		ServiceIDs: []int64{1},
		SlotStart:  time.Now(),
		DateKey:    "1403-01-01",
	})
	require.NoError(t, err)
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ServicesForGroup(ctx, 1)
	assert.Error(t, err)
}
