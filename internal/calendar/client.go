package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"log/slog"
)

const defaultUserAgent = "agenda-core-calendar/0.1"

// Config controls how Client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a REST-backed implementation of API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

var _ API = (*Client)(nil)

// New builds a configured calendar Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("calendar: base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("calendar: API key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

type appointmentDTO struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	Start          time.Time `json:"start"`
	Phone          string    `json:"phone"`
	ServiceID      string    `json:"service_id"`
	ServiceName    string    `json:"service_name"`
	ProfessionalID string    `json:"professional_id"`
	BusinessName   string    `json:"business_name"`
	BusinessAddr   string    `json:"business_address"`
}

func (a appointmentDTO) toAppointment() Appointment {
	return Appointment{
		ID:             a.ID,
		Status:         AppointmentStatus(a.Status),
		Start:          a.Start,
		Phone:          a.Phone,
		ServiceID:      a.ServiceID,
		ServiceName:    a.ServiceName,
		ProfessionalID: a.ProfessionalID,
		BusinessName:   a.BusinessName,
		BusinessAddr:   a.BusinessAddr,
	}
}

// ListAppointments fetches one page of the tenant's appointment list in the
// given date range.
func (c *Client) ListAppointments(ctx context.Context, dateFrom, dateTo time.Time, page int) (Page, error) {
	q := url.Values{}
	q.Set("date_from", dateFrom.Format(time.RFC3339))
	q.Set("date_to", dateTo.Format(time.RFC3339))
	q.Set("page", strconv.Itoa(page))
	data, err := c.invoke(ctx, http.MethodGet, "/appointments", q, nil)
	if err != nil {
		return Page{}, err
	}
	var wrapper struct {
		Items      []appointmentDTO `json:"items"`
		TotalPages int              `json:"total_pages"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return Page{}, fmt.Errorf("calendar: decode list appointments: %w", err)
	}
	items := make([]Appointment, 0, len(wrapper.Items))
	for _, it := range wrapper.Items {
		items = append(items, it.toAppointment())
	}
	return Page{Items: items, TotalPages: wrapper.TotalPages}, nil
}

// GetAppointment fetches a single appointment by id.
func (c *Client) GetAppointment(ctx context.Context, id string) (Appointment, error) {
	data, err := c.invoke(ctx, http.MethodGet, "/appointments/"+id, nil, nil)
	if err != nil {
		return Appointment{}, err
	}
	var dto appointmentDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return Appointment{}, fmt.Errorf("calendar: decode appointment: %w", err)
	}
	return dto.toAppointment(), nil
}

// SearchSlots returns up to limit open slots for a service/professional
// starting at or after startingAt.
func (c *Client) SearchSlots(ctx context.Context, serviceID, professionalID string, startingAt time.Time, limit int) ([]Slot, error) {
	q := url.Values{}
	q.Set("service_id", serviceID)
	q.Set("professional_id", professionalID)
	q.Set("starting_at", startingAt.Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(limit))
	data, err := c.invoke(ctx, http.MethodGet, "/slots", q, nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Slots []struct {
			Start          time.Time `json:"start"`
			ProfessionalID string    `json:"professional_id"`
		} `json:"slots"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("calendar: decode search slots: %w", err)
	}
	out := make([]Slot, 0, len(wrapper.Slots))
	for _, s := range wrapper.Slots {
		out = append(out, Slot{Start: s.Start, ProfessionalID: s.ProfessionalID})
	}
	return out, nil
}

// Rebook attempts to move an existing appointment to a new slot, honoring
// idempotencyKey when non-empty so a retried rebook request does not double
// book.
func (c *Client) Rebook(ctx context.Context, appointmentID string, newStart time.Time, serviceID, professionalID, idempotencyKey string) (Booking, error) {
	body, err := json.Marshal(struct {
		NewStart       time.Time `json:"new_start"`
		ServiceID      string    `json:"service_id"`
		ProfessionalID string    `json:"professional_id"`
	}{NewStart: newStart, ServiceID: serviceID, ProfessionalID: professionalID})
	if err != nil {
		return Booking{}, fmt.Errorf("calendar: marshal rebook request: %w", err)
	}
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	data, err := c.invokeWithHeaders(ctx, http.MethodPost, "/appointments/"+appointmentID+"/rebook", nil, body, headers)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusConflict {
			return Booking{}, &ErrConflict{AppointmentID: appointmentID}
		}
		return Booking{}, err
	}
	var out Booking
	if err := json.Unmarshal(data, &out); err != nil {
		return Booking{}, fmt.Errorf("calendar: decode rebook response: %w", err)
	}
	return out, nil
}

// CreateBooking creates a new appointment, honoring idempotencyKey so a
// retried request does not create a duplicate booking.
func (c *Client) CreateBooking(ctx context.Context, payload BookingPayload, idempotencyKey string) (Booking, error) {
	body, err := json.Marshal(struct {
		Phone          string    `json:"phone"`
		ServiceID      string    `json:"service_id"`
		ProfessionalID string    `json:"professional_id"`
		Start          time.Time `json:"start"`
	}{Phone: payload.Phone, ServiceID: payload.ServiceID, ProfessionalID: payload.ProfessionalID, Start: payload.Start})
	if err != nil {
		return Booking{}, fmt.Errorf("calendar: marshal booking payload: %w", err)
	}
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	data, err := c.invokeWithHeaders(ctx, http.MethodPost, "/bookings", nil, body, headers)
	if err != nil {
		return Booking{}, err
	}
	var out Booking
	if err := json.Unmarshal(data, &out); err != nil {
		return Booking{}, fmt.Errorf("calendar: decode booking response: %w", err)
	}
	return out, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	return c.invokeWithHeaders(ctx, method, path, query, body, nil)
}

func (c *Client) invokeWithHeaders(ctx context.Context, method, path string, query url.Values, body []byte, headers map[string]string) ([]byte, error) {
	full := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, full, reader)
		if err != nil {
			return nil, fmt.Errorf("calendar: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("User-Agent", defaultUserAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var netErr net.Error
			if !errors.As(err, &netErr) || attempt == c.maxRetries {
				return nil, fmt.Errorf("calendar: http error: %w", err)
			}
			lastErr = err
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("calendar: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		statusErr := &StatusError{Status: resp.StatusCode, Body: string(data)}
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode) {
			lastErr = statusErr
			c.logger.Warn("calendar retry", "path", path, "attempt", attempt+1, "status", resp.StatusCode)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, statusErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("calendar: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func shouldRetry(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// StatusError carries the HTTP status of a non-2xx calendar response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("calendar: http status %d: %s", e.Status, e.Body)
}

// StatusCode implements the httpStatusError interface retrypolicy.Retryable
// type-asserts against.
func (e *StatusError) StatusCode() int { return e.Status }
