package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/admesh/adcp-sales-agent/internal/api"
	"github.com/admesh/adcp-sales-agent/internal/server"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPHandler wraps the server and provides MCP tool handlers
type MCPHandler struct {
	srv *server.Server
}

// NewMCPHandler creates a new MCP handler
func NewMCPHandler(srv *server.Server) *MCPHandler {
	return &MCPHandler{srv: srv}
}

type productsResponse struct {
	Products []api.Product `json:"products"`
}

type checkStatusInput struct {
	MediaBuyID string `json:"media_buy_id"`
	Today      string `json:"today,omitempty"`
}

type deliveryInput struct {
	MediaBuyID string `json:"media_buy_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Today      string `json:"today,omitempty"`
}

type addCreativesInput struct {
	MediaBuyID string              `json:"media_buy_id"`
	Assets     []api.CreativeAsset `json:"assets"`
	Today      string              `json:"today,omitempty"`
}

type addCreativesOutput struct {
	Statuses []api.AssetStatus `json:"statuses"`
}

type associateInput struct {
	LineItemIDs         []string `json:"line_item_ids"`
	PlatformCreativeIDs []string `json:"platform_creative_ids"`
}

type associateOutput struct {
	Associations []api.CreativeAssociation `json:"associations"`
}

type performanceIndexInput struct {
	MediaBuyID         string                   `json:"media_buy_id"`
	PackagePerformance []api.PackagePerformance `json:"package_performance"`
}

type performanceIndexOutput struct {
	Acknowledged bool `json:"acknowledged"`
}

func (h *MCPHandler) errorResult(errResp api.ErrorResponse) (*sdk.CallToolResult, error) {
	data, err := json.Marshal(errResp)
	if err != nil {
		return nil, err
	}
	return &sdk.CallToolResult{
		IsError: true,
		Content: []sdk.Content{
			&sdk.TextContent{Text: string(data)},
		},
	}, nil
}

// operationError converts server-layer failures into MCP error results;
// unexpected failures propagate as Go errors.
func (h *MCPHandler) operationError(err error) (*sdk.CallToolResult, error) {
	var valErr server.ValidationError
	if errors.As(err, &valErr) {
		return h.errorResult(api.ErrorResponse{Error: valErr.Message, Code: valErr.Code})
	}
	return nil, err
}

func parseOptionalDay(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse("2006-01-02", value)
}

// HandleListAuthorizedProperties returns authorized properties
func (h *MCPHandler) HandleListAuthorizedProperties(ctx context.Context, _ *sdk.CallToolRequest, _ struct{}) (*sdk.CallToolResult, api.AuthorizedPropertiesResponse, error) {
	return nil, h.srv.AuthProperties, nil
}

// HandleGetProducts returns available products
func (h *MCPHandler) HandleGetProducts(ctx context.Context, _ *sdk.CallToolRequest, _ struct{}) (*sdk.CallToolResult, productsResponse, error) {
	return nil, productsResponse{Products: h.srv.Products}, nil
}

// HandleListCreativeFormats returns supported creative formats
func (h *MCPHandler) HandleListCreativeFormats(ctx context.Context, _ *sdk.CallToolRequest, _ struct{}) (*sdk.CallToolResult, api.CreativeFormatsResponse, error) {
	resp := api.CreativeFormatsResponse{
		Formats:        []api.CreativeFormat{},
		CreativeAgents: []string{"https://creative.adcontextprotocol.org"},
	}
	return nil, resp, nil
}

// HandleCreateMediaBuy creates a new media buy using shared business logic
func (h *MCPHandler) HandleCreateMediaBuy(ctx context.Context, _ *sdk.CallToolRequest, input api.CreateMediaBuyRequest) (*sdk.CallToolResult, api.CreateMediaBuyResult, error) {
	var empty api.CreateMediaBuyResult

	resp, err := h.srv.CreateMediaBuy(ctx, server.CreateMediaBuyParams{
		Request: &input,
	})
	if err != nil {
		result, opErr := h.operationError(err)
		return result, empty, opErr
	}
	if resp == nil {
		return nil, empty, errors.New("create media buy returned nil response")
	}
	return nil, *resp, nil
}

// HandleUpdateMediaBuy applies one update action to an existing media buy
func (h *MCPHandler) HandleUpdateMediaBuy(ctx context.Context, _ *sdk.CallToolRequest, input api.UpdateMediaBuyRequest) (*sdk.CallToolResult, api.UpdateMediaBuyResult, error) {
	var empty api.UpdateMediaBuyResult

	if input.MediaBuyID == "" {
		result, err := h.errorResult(api.ErrorResponse{
			Error: "media_buy_id is required",
			Code:  "MISSING_REQUIRED_FIELD",
		})
		return result, empty, err
	}

	resp, err := h.srv.UpdateMediaBuy(ctx, &input)
	if err != nil {
		result, opErr := h.operationError(err)
		return result, empty, opErr
	}
	return nil, *resp, nil
}

// HandleCheckMediaBuyStatus reports a media buy's lifecycle status
func (h *MCPHandler) HandleCheckMediaBuyStatus(ctx context.Context, _ *sdk.CallToolRequest, input checkStatusInput) (*sdk.CallToolResult, api.CheckMediaBuyStatusResponse, error) {
	var empty api.CheckMediaBuyStatusResponse

	today, err := parseOptionalDay(input.Today)
	if err != nil {
		result, buildErr := h.errorResult(api.ErrorResponse{Error: "Invalid today date (use YYYY-MM-DD)", Code: "INVALID_DATE_FORMAT"})
		return result, empty, buildErr
	}

	resp, err := h.srv.CheckMediaBuyStatus(ctx, input.MediaBuyID, today)
	if err != nil {
		result, opErr := h.operationError(err)
		return result, empty, opErr
	}
	return nil, *resp, nil
}

// HandleGetMediaBuyDelivery reports delivered volume over a date range
func (h *MCPHandler) HandleGetMediaBuyDelivery(ctx context.Context, _ *sdk.CallToolRequest, input deliveryInput) (*sdk.CallToolResult, api.MediaBuyDeliveryResponse, error) {
	var empty api.MediaBuyDeliveryResponse

	var dateRange api.DateRange
	var err error
	if input.Start != "" {
		if dateRange.Start, err = time.Parse("2006-01-02", input.Start); err != nil {
			result, buildErr := h.errorResult(api.ErrorResponse{Error: "Invalid start date (use YYYY-MM-DD)", Code: "INVALID_DATE_FORMAT"})
			return result, empty, buildErr
		}
	}
	if input.End != "" {
		if dateRange.End, err = time.Parse("2006-01-02", input.End); err != nil {
			result, buildErr := h.errorResult(api.ErrorResponse{Error: "Invalid end date (use YYYY-MM-DD)", Code: "INVALID_DATE_FORMAT"})
			return result, empty, buildErr
		}
	}
	today, err := parseOptionalDay(input.Today)
	if err != nil {
		result, buildErr := h.errorResult(api.ErrorResponse{Error: "Invalid today date (use YYYY-MM-DD)", Code: "INVALID_DATE_FORMAT"})
		return result, empty, buildErr
	}

	resp, err := h.srv.GetMediaBuyDelivery(ctx, input.MediaBuyID, dateRange, today)
	if err != nil {
		result, opErr := h.operationError(err)
		return result, empty, opErr
	}
	return nil, *resp, nil
}

// HandleAddCreativeAssets syncs creative assets to a media buy
func (h *MCPHandler) HandleAddCreativeAssets(ctx context.Context, _ *sdk.CallToolRequest, input addCreativesInput) (*sdk.CallToolResult, addCreativesOutput, error) {
	var empty addCreativesOutput

	today, err := parseOptionalDay(input.Today)
	if err != nil {
		result, buildErr := h.errorResult(api.ErrorResponse{Error: "Invalid today date (use YYYY-MM-DD)", Code: "INVALID_DATE_FORMAT"})
		return result, empty, buildErr
	}

	statuses, err := h.srv.AddCreativeAssets(ctx, input.MediaBuyID, input.Assets, today)
	if err != nil {
		result, opErr := h.operationError(err)
		return result, empty, opErr
	}
	return nil, addCreativesOutput{Statuses: statuses}, nil
}

// HandleAssociateCreatives links uploaded creatives with line items
func (h *MCPHandler) HandleAssociateCreatives(ctx context.Context, _ *sdk.CallToolRequest, input associateInput) (*sdk.CallToolResult, associateOutput, error) {
	var empty associateOutput

	associations, err := h.srv.AssociateCreatives(ctx, input.LineItemIDs, input.PlatformCreativeIDs)
	if err != nil {
		result, opErr := h.operationError(err)
		return result, empty, opErr
	}
	return nil, associateOutput{Associations: associations}, nil
}

// HandleUpdatePerformanceIndex forwards buyer performance signals
func (h *MCPHandler) HandleUpdatePerformanceIndex(ctx context.Context, _ *sdk.CallToolRequest, input performanceIndexInput) (*sdk.CallToolResult, performanceIndexOutput, error) {
	var empty performanceIndexOutput

	acknowledged, err := h.srv.UpdateMediaBuyPerformanceIndex(ctx, input.MediaBuyID, input.PackagePerformance)
	if err != nil {
		result, opErr := h.operationError(err)
		return result, empty, opErr
	}
	return nil, performanceIndexOutput{Acknowledged: acknowledged}, nil
}

// RegisterTools registers all MCP tools with the server
func (h *MCPHandler) RegisterTools(mcpServer *sdk.Server) {
	sdk.AddTool(mcpServer, &sdk.Tool{
		Name:        "adcp.list_authorized_properties",
		Description: "List properties authorized for this sales agent",
	}, h.HandleListAuthorizedProperties)

	sdk.AddTool(mcpServer, &sdk.Tool{
		Name:        "adcp.get_products",
		Description: "Get available advertising products",
	}, h.HandleGetProducts)

	sdk.AddTool(mcpServer, &sdk.Tool{
		Name:        "adcp.list_creative_formats",
		Description: "List supported creative formats",
	}, h.HandleListCreativeFormats)

	sdk.AddTool(mcpServer, &sdk.Tool{
		Name:        "adcp.create_media_buy",
		Description: "Create a new media buy",
	}, h.HandleCreateMediaBuy)

	sdk.AddTool(mcpServer, &sdk.Tool{
		Name:        "adcp.update_media_buy",
		Description: "Apply an update action to an existing media buy",
	}, h.HandleUpdateMediaBuy)

	sdk.AddTool(mcpServer, &sdk.Tool{
		Name:        "adcp.check_media_buy_status",
		Description: "Check a media buy's lifecycle status",
	}, h.HandleCheckMediaBuyStatus)

	sdk.AddTool(mcpServer, &sdk.Tool{
		Name:        "adcp.get_media_buy_delivery",
		Description: "Get delivered impressions and spend for a media buy",
	}, h.HandleGetMediaBuyDelivery)

	sdk.AddTool(mcpServer, &sdk.Tool{
		Name:        "adcp.add_creative_assets",
		Description: "Upload creative assets to a media buy",
	}, h.HandleAddCreativeAssets)

	sdk.AddTool(mcpServer, &sdk.Tool{
		Name:        "adcp.associate_creatives",
		Description: "Associate uploaded creatives with line items",
	}, h.HandleAssociateCreatives)

	sdk.AddTool(mcpServer, &sdk.Tool{
		Name:        "adcp.update_media_buy_performance_index",
		Description: "Update per-package performance indices for pacing",
	}, h.HandleUpdatePerformanceIndex)
}
