package tool

import (
	"context"
	"fmt"
	"math"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
)

const (
	defaultMenuResults = 3
	maxMenuResults     = 10

	// StatusPending is the status of a reservation created by the assistant.
	StatusPending = "pending"
)

// weightRanges maps the upper bound in kg to the menu's weight_range.
var weightRanges = []struct {
	maxKg float64
	rng   int
}{
	{maxKg: 4, rng: 1},
	{maxKg: 6, rng: 2},
	{maxKg: 8, rng: 3},
	{maxKg: 10, rng: 4},
}

type WeightRangeOutput struct {
	WeightKg    float64 `json:"weight_kg"`
	WeightRange int     `json:"weight_range"`
}

func retrievalSpecs(deps Dependencies) map[string]Spec {
	return map[string]Spec{
		ToolSearchServiceMenu: {
			Info: &schema.ToolInfo{
				Name: ToolSearchServiceMenu,
				Desc: "Search the grooming service menu by breed, service and weight range. Output: matching services with price.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"query": {Type: schema.String, Desc: "Natural language description, e.g. 'poodle full grooming weight_range 2'", Required: true},
					"limit": {Type: schema.Integer, Desc: "Maximum number of results (default 3)"},
				}),
			},
			Handler: func(ctx context.Context, req contractx.ToolRequest) (any, error) {
				return searchServiceMenu(ctx, deps, req)
			},
		},
		ToolEstimateWeightRange: {
			Info: &schema.ToolInfo{
				Name: ToolEstimateWeightRange,
				Desc: "Convert a pet weight in kg into the menu weight_range (1-4).",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"weight": {Type: schema.Number, Desc: "Pet weight in kg", Required: true},
				}),
			},
			Handler: func(_ context.Context, req contractx.ToolRequest) (any, error) {
				return estimateWeightRange(req.Args)
			},
		},
		ToolCalculatePrice: {
			Info: &schema.ToolInfo{
				Name: ToolCalculatePrice,
				Desc: "Evaluate an arithmetic expression over service prices, e.g. '30000 + 5000 * 2'. " +
					"Supports + - * / and parentheses; 'a % p' is p percent of a, so '45000 - 45000 % 10' applies a 10% discount.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"expression": {Type: schema.String, Desc: "Expression to evaluate; % means percent of the left operand, not modulo", Required: true},
				}),
			},
			Handler: func(_ context.Context, req contractx.ToolRequest) (any, error) {
				return calculatePrice(req.Args)
			},
		},
		ToolCreateReservation: {
			Info: &schema.ToolInfo{
				Name: ToolCreateReservation,
				Desc: "Create a grooming reservation for the verified customer. Output: the created reservation.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"service_name":     {Type: schema.String, Desc: "Name of the service from the menu", Required: true},
					"reservation_date": {Type: schema.String, Desc: "Date in format YYYY-MM-DD", Required: true},
					"price":            {Type: schema.Integer, Desc: "Price of the service", Required: true},
					"weight":           {Type: schema.Number, Desc: "Weight of the pet in kg"},
					"pet_id":           {Type: schema.String, Desc: "ID of the pet"},
					"pet_name":         {Type: schema.String, Desc: "Name of the pet"},
				}),
			},
			Handler: func(ctx context.Context, req contractx.ToolRequest) (any, error) {
				return createReservation(ctx, deps, req)
			},
		},
	}
}

func searchServiceMenu(ctx context.Context, deps Dependencies, req contractx.ToolRequest) (any, error) {
	if deps.Menu == nil {
		return nil, fmt.Errorf("%w: service menu index", contractx.ErrToolUnavailable)
	}
	query, err := stringArg(req.Args, "query")
	if err != nil {
		return nil, err
	}
	limit := defaultMenuResults
	if n, ok, err := numberArg(req.Args, "limit"); err != nil {
		return nil, err
	} else if ok && n >= 1 {
		limit = int(math.Min(n, maxMenuResults))
	}

	matches, err := deps.Menu.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return "no matching service found in the menu; ask the customer for the breed, service and weight", nil
	}
	return matches, nil
}

func estimateWeightRange(args map[string]any) (any, error) {
	w, ok, err := numberArg(args, "weight")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("weight is required")
	}
	if w <= 0 {
		return nil, fmt.Errorf("weight must be greater than 0")
	}
	for _, r := range weightRanges {
		if w <= r.maxKg {
			return WeightRangeOutput{WeightKg: w, WeightRange: r.rng}, nil
		}
	}
	return nil, fmt.Errorf("weight %.1fkg is above 10kg and not covered by the grooming menu", w)
}

func createReservation(ctx context.Context, deps Dependencies, req contractx.ToolRequest) (any, error) {
	if deps.Reservations == nil {
		return nil, fmt.Errorf("%w: reservation backend", contractx.ErrToolUnavailable)
	}
	phone, err := verifiedPhone(req)
	if err != nil {
		return nil, err
	}
	service, err := stringArg(req.Args, "service_name")
	if err != nil {
		return nil, err
	}
	date, err := dateArg(req.Args, "reservation_date", deps.Now())
	if err != nil {
		return nil, err
	}
	price, ok, err := numberArg(req.Args, "price")
	if err != nil {
		return nil, err
	}
	if !ok || price < 0 {
		return nil, fmt.Errorf("price is required")
	}
	weight, _, err := numberArg(req.Args, "weight")
	if err != nil {
		return nil, err
	}
	petID, _ := optionalString(req.Args, "pet_id")
	petName, _ := optionalString(req.Args, "pet_name")

	created, err := deps.Reservations.Create(ctx, contractx.Reservation{
		PhoneNumber:     phone,
		PetID:           petID,
		PetName:         petName,
		ServiceName:     service,
		Weight:          weight,
		ReservationDate: date,
		Price:           int(math.Round(price)),
		Status:          StatusPending,
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
