package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/kursadbilgin/campaign-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type CampaignService interface {
	Create(ctx context.Context, c *domain.Campaign) (*domain.Campaign, error)
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Campaign, int64, error)
	Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error)
	Execute(ctx context.Context, id string) (*domain.Campaign, error)
	Pause(ctx context.Context, id string) (*domain.Campaign, error)
	Resume(ctx context.Context, id string) (*domain.Campaign, error)
	Cancel(ctx context.Context, id string) (*domain.Campaign, error)
	GetStats(ctx context.Context, id string) (*domain.StatsSnapshot, error)
	ListDeliveries(ctx context.Context, id string, status *domain.DeliveryStatus) ([]domain.Delivery, error)
	GetGeneralStats(ctx context.Context, from, to *time.Time) ([]repository.StatusSummary, error)
	GetSchedulerStats(ctx context.Context) (*service.SchedulerStats, error)
}

type CampaignHandler struct {
	service CampaignService
}

func NewCampaignHandler(service CampaignService) (*CampaignHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	return &CampaignHandler{service: service}, nil
}

func RegisterCampaignRoutes(router fiber.Router, service CampaignService) error {
	h, err := NewCampaignHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns", h.CreateCampaign)
	v1.Get("/campaigns", h.ListCampaigns)
	v1.Get("/campaigns/stats", h.GetGeneralStats)
	v1.Get("/campaigns/:id", h.GetCampaign)
	v1.Get("/campaigns/:id/stats", h.GetCampaignStats)
	v1.Get("/campaigns/:id/deliveries", h.ListDeliveries)
	v1.Post("/campaigns/:id/schedule", h.ScheduleCampaign)
	v1.Post("/campaigns/:id/execute", h.ExecuteCampaign)
	v1.Post("/campaigns/:id/pause", h.PauseCampaign)
	v1.Post("/campaigns/:id/resume", h.ResumeCampaign)
	v1.Post("/campaigns/:id/cancel", h.CancelCampaign)

	return nil
}

type targetCriteriaRequest struct {
	AllActive          bool     `json:"allActive"`
	InactiveDays       *int     `json:"inactiveDays,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	SpecificRecipients []string `json:"specificRecipients,omitempty"`
	RequiresOptIn      *bool    `json:"requiresOptIn,omitempty"`
}

type settingsRequest struct {
	SendIntervalMs     *int64   `json:"sendInterval,omitempty"`
	MaxRetries         *int     `json:"maxRetries,omitempty"`
	PauseOnFailureRate *float64 `json:"pauseOnFailureRate,omitempty"`
}

type createCampaignRequest struct {
	Name           string                `json:"name"`
	Description    string                `json:"description"`
	Type           string                `json:"type"`
	Message        string                `json:"message"`
	TargetCriteria targetCriteriaRequest `json:"targetCriteria"`
	ScheduledAt    *time.Time            `json:"scheduledAt,omitempty"`
	Settings       *settingsRequest      `json:"settings,omitempty"`
	CreatedBy      string                `json:"createdBy"`
}

type scheduleRequest struct {
	ScheduledAt *time.Time `json:"scheduledAt"`
}

type targetCriteriaResponse struct {
	AllActive          bool     `json:"allActive"`
	InactiveDays       *int     `json:"inactiveDays,omitempty"`
	Tags               []string `json:"tags"`
	SpecificRecipients []string `json:"specificRecipients"`
	RequiresOptIn      bool     `json:"requiresOptIn"`
}

type statsResponse struct {
	TotalTargeted int `json:"totalTargeted"`
	Sent          int `json:"sent"`
	Failed        int `json:"failed"`
	Delivered     int `json:"delivered"`
}

type settingsResponse struct {
	SendIntervalMs     int64   `json:"sendInterval"`
	MaxRetries         int     `json:"maxRetries"`
	PauseOnFailureRate float64 `json:"pauseOnFailureRate"`
}

type executionLogResponse struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type campaignResponse struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Type           string                 `json:"type"`
	Message        string                 `json:"message"`
	TargetCriteria targetCriteriaResponse `json:"targetCriteria"`
	ScheduledAt    *time.Time             `json:"scheduledAt,omitempty"`
	Status         string                 `json:"status"`
	Stats          statsResponse          `json:"stats"`
	Settings       settingsResponse       `json:"settings"`
	ExecutionLogs  []executionLogResponse `json:"executionLogs"`
	CreatedBy      string                 `json:"createdBy"`
	StartedAt      *time.Time             `json:"startedAt,omitempty"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	CreatedAt      time.Time              `json:"createdAt,omitempty"`
	UpdatedAt      time.Time              `json:"updatedAt,omitempty"`
}

type listCampaignsResponse struct {
	Data []campaignResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type campaignStatsResponse struct {
	CampaignID  string        `json:"campaignId"`
	Status      string        `json:"status"`
	Stats       statsResponse `json:"stats"`
	FailureRate float64       `json:"failureRate"`
}

type deliveryResponse struct {
	RecipientID       string    `json:"recipientId"`
	Status            string    `json:"status"`
	Attempts          int       `json:"attempts"`
	Error             *string   `json:"error,omitempty"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

type listDeliveriesResponse struct {
	CampaignID string             `json:"campaignId"`
	Data       []deliveryResponse `json:"data"`
}

type statusSummaryItem struct {
	Status        string `json:"status"`
	Count         int64  `json:"count"`
	TotalTargeted int64  `json:"totalTargeted"`
	Sent          int64  `json:"sent"`
	Failed        int64  `json:"failed"`
}

type generalStatsResponse struct {
	ByStatus          []statusSummaryItem `json:"byStatus"`
	UpcomingScheduled int64               `json:"upcomingScheduled"`
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	campaign, err := requestToDomainCampaign(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(requestContext(c), &campaign)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(created))
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	campaign, err := h.service.GetByID(requestContext(c), campaignID(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) ListCampaigns(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	campaigns, total, err := h.service.List(requestContext(c), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		data = append(data, toCampaignResponse(&campaigns[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listCampaignsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *CampaignHandler) GetCampaignStats(c *fiber.Ctx) error {
	snapshot, err := h.service.GetStats(requestContext(c), campaignID(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(campaignStatsResponse{
		CampaignID:  snapshot.CampaignID,
		Status:      snapshot.Status.String(),
		Stats:       toStatsResponse(snapshot.Stats),
		FailureRate: snapshot.FailureRate,
	})
}

func (h *CampaignHandler) ListDeliveries(c *fiber.Ctx) error {
	var status *domain.DeliveryStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		parsed, err := domain.ParseDeliveryStatus(raw)
		if err != nil {
			return toHTTPError(err)
		}
		status = &parsed
	}

	id := campaignID(c)
	deliveries, err := h.service.ListDeliveries(requestContext(c), id, status)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		data = append(data, deliveryResponse{
			RecipientID:       d.RecipientID,
			Status:            d.Status.String(),
			Attempts:          d.Attempts,
			Error:             d.Error,
			ProviderMessageID: d.ProviderMessageID,
			CreatedAt:         d.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listDeliveriesResponse{CampaignID: id, Data: data})
}

func (h *CampaignHandler) GetGeneralStats(c *fiber.Ctx) error {
	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return toHTTPError(err)
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return toHTTPError(err)
	}

	ctx := requestContext(c)
	summaries, err := h.service.GetGeneralStats(ctx, from, to)
	if err != nil {
		return toHTTPError(err)
	}
	schedulerStats, err := h.service.GetSchedulerStats(ctx)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]statusSummaryItem, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, statusSummaryItem{
			Status:        s.Status.String(),
			Count:         s.Count,
			TotalTargeted: s.TotalTargeted,
			Sent:          s.Sent,
			Failed:        s.Failed,
		})
	}

	return c.Status(fiber.StatusOK).JSON(generalStatsResponse{
		ByStatus:          items,
		UpcomingScheduled: schedulerStats.UpcomingScheduled,
	})
}

func (h *CampaignHandler) ScheduleCampaign(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.ScheduledAt == nil {
		return toHTTPError(fmt.Errorf("%w: scheduledAt is required", domain.ErrValidation))
	}

	campaign, err := h.service.Schedule(requestContext(c), campaignID(c), *req.ScheduledAt)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) ExecuteCampaign(c *fiber.Ctx) error {
	return h.control(c, fiber.StatusAccepted, h.service.Execute)
}

func (h *CampaignHandler) PauseCampaign(c *fiber.Ctx) error {
	return h.control(c, fiber.StatusOK, h.service.Pause)
}

func (h *CampaignHandler) ResumeCampaign(c *fiber.Ctx) error {
	return h.control(c, fiber.StatusAccepted, h.service.Resume)
}

func (h *CampaignHandler) CancelCampaign(c *fiber.Ctx) error {
	return h.control(c, fiber.StatusOK, h.service.Cancel)
}

func (h *CampaignHandler) control(c *fiber.Ctx, status int, op func(context.Context, string) (*domain.Campaign, error)) error {
	campaign, err := op(requestContext(c), campaignID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(status).JSON(toCampaignResponse(campaign))
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawType := strings.TrimSpace(c.Query("type")); rawType != "" {
		campaignType, err := domain.ParseTypeFromString(rawType)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Type = &campaignType
	}

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

// requestToDomainCampaign fills omitted settings with defaults. requiresOptIn
// defaults to true.
func requestToDomainCampaign(req createCampaignRequest) (domain.Campaign, error) {
	campaignType, err := domain.ParseTypeFromString(req.Type)
	if err != nil {
		return domain.Campaign{}, err
	}

	requiresOptIn := true
	if req.TargetCriteria.RequiresOptIn != nil {
		requiresOptIn = *req.TargetCriteria.RequiresOptIn
	}

	settings := domain.DefaultSettings()
	if s := req.Settings; s != nil {
		if s.SendIntervalMs != nil {
			settings.SendInterval = time.Duration(*s.SendIntervalMs) * time.Millisecond
		}
		if s.MaxRetries != nil {
			settings.MaxRetries = *s.MaxRetries
		}
		if s.PauseOnFailureRate != nil {
			settings.PauseOnFailureRate = *s.PauseOnFailureRate
		}
	}

	return domain.Campaign{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Type:        campaignType,
		Message:     req.Message,
		TargetCriteria: domain.TargetCriteria{
			AllActive:          req.TargetCriteria.AllActive,
			InactiveDays:       req.TargetCriteria.InactiveDays,
			Tags:               req.TargetCriteria.Tags,
			SpecificRecipients: req.TargetCriteria.SpecificRecipients,
			RequiresOptIn:      requiresOptIn,
		},
		ScheduledAt: req.ScheduledAt,
		Settings:    settings,
		CreatedBy:   strings.TrimSpace(req.CreatedBy),
	}, nil
}

func campaignID(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Params("id"))
}

// requestContext carries the request id as correlation id so dispatched
// runs can be traced back to the API call.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toStatsResponse(s domain.CampaignStats) statsResponse {
	return statsResponse{
		TotalTargeted: s.TotalTargeted,
		Sent:          s.Sent,
		Failed:        s.Failed,
		Delivered:     s.Delivered,
	}
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	if c == nil {
		return campaignResponse{}
	}

	logs := make([]executionLogResponse, 0, len(c.ExecutionLogs))
	for _, entry := range c.ExecutionLogs {
		logs = append(logs, executionLogResponse{
			Timestamp: entry.Timestamp,
			Event:     entry.Event.String(),
			Message:   entry.Message,
			Data:      entry.Data,
		})
	}

	tags := c.TargetCriteria.Tags
	if tags == nil {
		tags = []string{}
	}
	specific := c.TargetCriteria.SpecificRecipients
	if specific == nil {
		specific = []string{}
	}

	return campaignResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Type:        c.Type.String(),
		Message:     c.Message,
		TargetCriteria: targetCriteriaResponse{
			AllActive:          c.TargetCriteria.AllActive,
			InactiveDays:       c.TargetCriteria.InactiveDays,
			Tags:               tags,
			SpecificRecipients: specific,
			RequiresOptIn:      c.TargetCriteria.RequiresOptIn,
		},
		ScheduledAt: c.ScheduledAt,
		Status:      c.Status.String(),
		Stats:       toStatsResponse(c.Stats),
		Settings: settingsResponse{
			SendIntervalMs:     c.Settings.SendInterval.Milliseconds(),
			MaxRetries:         c.Settings.MaxRetries,
			PauseOnFailureRate: c.Settings.PauseOnFailureRate,
		},
		ExecutionLogs: logs,
		CreatedBy:     c.CreatedBy,
		StartedAt:     c.StartedAt,
		CompletedAt:   c.CompletedAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
