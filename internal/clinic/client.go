package clinic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nobat/internal/config"
	"nobat/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// APIError is a non-2xx answer from the clinic server. Message is the
// server-provided text when the body carried one, empty otherwise.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("clinic api: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("clinic api: %d", e.StatusCode)
}

// Client talks to the clinic's scheduling API: services by group, available
// slots, discount validation and the final booking submit. Plain
// request/response, no retries; a failed call is terminal for that attempt.
type Client struct {
	cfg        config.ClinicConfig
	httpClient *http.Client
	limiter    *rate.Limiter

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a client from the clinic config.
func NewClient(cfg config.ClinicConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
	}
}

// UseRedisCache configures optional Redis caching for GET endpoints.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

type serviceDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Duration int    `json:"duration"`
}

type deviceDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type groupDTO struct {
	Services      []serviceDTO `json:"services"`
	Devices       []deviceDTO  `json:"devices"`
	HasDevices    bool         `json:"has_devices"`
	AllowMultiple bool         `json:"allow_multiple_selection"`
}

// ServicesForGroup fetches the services and devices of a service group.
// A group without services yields an empty list, not an error.
func (c *Client) ServicesForGroup(ctx context.Context, groupID int64) (*models.GroupInfo, error) {
	endpoint := fmt.Sprintf("%s?group_id=%d", c.cfg.ServicesURL, groupID)
	cacheKey := fmt.Sprintf("clinic:services:%d", groupID)

	var dto groupDTO
	if !c.readCache(ctx, cacheKey, &dto) {
		if err := c.doGet(ctx, endpoint, &dto); err != nil {
			return nil, fmt.Errorf("fetch services for group %d: %w", groupID, err)
		}
		c.writeCache(ctx, cacheKey, dto)
	}

	info := &models.GroupInfo{
		HasDevices:    dto.HasDevices,
		AllowMultiple: dto.AllowMultiple,
		Services:      make([]models.Service, 0, len(dto.Services)),
		Devices:       make([]models.Device, 0, len(dto.Devices)),
	}
	for _, s := range dto.Services {
		info.Services = append(info.Services, models.Service(s))
	}
	for _, d := range dto.Devices {
		info.Devices = append(info.Devices, models.Device(d))
	}
	return info, nil
}

type slotDTO struct {
	Start         string `json:"start"`
	ReadableStart string `json:"readable_start"`
}

// AvailableSlots fetches the flat, server-ordered slot list for the given
// services and optional device. Grouping by day is the caller's job.
func (c *Client) AvailableSlots(ctx context.Context, serviceIDs []int64, deviceID int64) ([]models.Slot, error) {
	params := url.Values{}
	for _, id := range serviceIDs {
		params.Add("service_ids[]", strconv.FormatInt(id, 10))
	}
	if deviceID != 0 {
		params.Set("device_id", strconv.FormatInt(deviceID, 10))
	}
	endpoint := c.cfg.SlotsURL + "?" + params.Encode()

	var dtos []slotDTO
	if err := c.doGet(ctx, endpoint, &dtos); err != nil {
		return nil, fmt.Errorf("fetch available slots: %w", err)
	}

	slots := make([]models.Slot, 0, len(dtos))
	for _, dto := range dtos {
		start, err := time.Parse(time.RFC3339, dto.Start)
		if err != nil {
			return nil, fmt.Errorf("parse slot start %q: %w", dto.Start, err)
		}
		slots = append(slots, models.Slot{Start: start, ReadableStart: dto.ReadableStart})
	}
	return slots, nil
}

type discountDTO struct {
	Status         string `json:"status"`
	DiscountAmount int64  `json:"discount_amount"`
	Message        string `json:"message"`
}

// ApplyDiscount validates a discount code against the current base price and
// returns the granted amount. A 400 or 404 carries the server's message in
// the returned APIError; any other failure is generic.
func (c *Client) ApplyDiscount(ctx context.Context, code string, totalPrice int64) (int64, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("total_price", strconv.FormatInt(totalPrice, 10))
	form.Set("csrfmiddlewaretoken", c.cfg.CSRFToken)

	var dto discountDTO
	if err := c.doPostForm(ctx, c.cfg.DiscountURL, form, &dto); err != nil {
		return 0, fmt.Errorf("apply discount: %w", err)
	}
	return dto.DiscountAmount, nil
}

// BookingForm is the final reservation submit: everything the booking form
// posts once the user has confirmed.
type BookingForm struct {
	ServiceIDs   []int64
	DeviceID     int64
	SlotStart    time.Time
	DateKey      string
	ApplyPoints  bool
	DiscountCode string
}

// SubmitBooking posts the booking form. The booking itself is created
// server-side; success is any 2xx answer.
func (c *Client) SubmitBooking(ctx context.Context, booking BookingForm) error {
	form := url.Values{}
	for _, id := range booking.ServiceIDs {
		form.Add("services[]", strconv.FormatInt(id, 10))
	}
	if booking.DeviceID != 0 {
		form.Set("device", strconv.FormatInt(booking.DeviceID, 10))
	}
	form.Set("slot", booking.SlotStart.Format(time.RFC3339))
	form.Set("date", booking.DateKey)
	if booking.ApplyPoints {
		form.Set("apply_points", "on")
	}
	if booking.DiscountCode != "" {
		form.Set("discount_code", booking.DiscountCode)
	}
	form.Set("csrfmiddlewaretoken", c.cfg.CSRFToken)

	if err := c.doPostForm(ctx, c.cfg.BookingURL, form, nil); err != nil {
		return fmt.Errorf("submit booking: %w", err)
	}
	return nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) doPostForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRFToken", c.cfg.CSRFToken)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError extracts the server message from a structured error body. The
// API uses both {"message": ...} and {"error": ...} shapes.
func (c *Client) apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			apiErr.Message = payload.Message
		} else if payload.Error != "" {
			apiErr.Message = payload.Error
		}
	}
	return apiErr
}
