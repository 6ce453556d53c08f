package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
)

var errNoVerifiedPhone = errors.New("no phone number configured for this session")

var phoneSeparators = strings.NewReplacer("-", "", " ", "", ".", "", "(", "", ")", "")

func reservationSpecs(deps Dependencies) map[string]Spec {
	return map[string]Spec{
		ToolGetReservationsByPhone: {
			Info: &schema.ToolInfo{
				Name: ToolGetReservationsByPhone,
				Desc: "Retrieve the grooming reservations booked with the customer's verified phone number. Output: reservation details including reservation_uuid.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"phone_number": {Type: schema.String, Desc: "Phone number; defaults to the verified number of the current customer"},
				}),
			},
			Handler: func(ctx context.Context, req contractx.ToolRequest) (any, error) {
				return getReservationsByPhone(ctx, deps, req)
			},
		},
		ToolUpdateReservationDate: {
			Info: &schema.ToolInfo{
				Name: ToolUpdateReservationDate,
				Desc: "Update the date of an existing reservation. Output: success message.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"reservation_uuid": {Type: schema.String, Desc: "UUID of the reservation", Required: true},
					"new_date":         {Type: schema.String, Desc: "New date in format YYYY-MM-DD", Required: true},
				}),
			},
			Handler: func(ctx context.Context, req contractx.ToolRequest) (any, error) {
				return updateReservationDate(ctx, deps, req)
			},
		},
		ToolCancelReservation: {
			Info: &schema.ToolInfo{
				Name: ToolCancelReservation,
				Desc: "Cancel an existing reservation based on its UUID. Output: success message.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"reservation_uuid": {Type: schema.String, Desc: "UUID of the reservation", Required: true},
				}),
			},
			Handler: func(ctx context.Context, req contractx.ToolRequest) (any, error) {
				return cancelReservation(ctx, deps, req)
			},
		},
	}
}

func verifiedPhone(req contractx.ToolRequest) (string, error) {
	phone := strings.TrimSpace(req.UserContext[contractx.UserContextPhoneNumber])
	if phone == "" {
		return "", errNoVerifiedPhone
	}
	return phone, nil
}

func getReservationsByPhone(ctx context.Context, deps Dependencies, req contractx.ToolRequest) (any, error) {
	if deps.Reservations == nil {
		return nil, fmt.Errorf("%w: reservation backend", contractx.ErrToolUnavailable)
	}
	phone, err := verifiedPhone(req)
	if err != nil {
		return nil, err
	}
	if asked, ok := optionalString(req.Args, "phone_number"); ok && asked != "" {
		if phoneSeparators.Replace(asked) != phone {
			return nil, fmt.Errorf("reservations can only be looked up for the verified phone number of this session")
		}
	}

	rows, err := deps.Reservations.ListByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []contractx.Reservation{}
	}
	return rows, nil
}

// ownedReservation checks that reservation_uuid belongs to the verified phone.
func ownedReservation(ctx context.Context, deps Dependencies, req contractx.ToolRequest) (string, error) {
	if deps.Reservations == nil {
		return "", fmt.Errorf("%w: reservation backend", contractx.ErrToolUnavailable)
	}
	raw, err := stringArg(req.Args, "reservation_uuid")
	if err != nil {
		return "", err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("reservation_uuid %q is not a valid UUID", raw)
	}
	phone, err := verifiedPhone(req)
	if err != nil {
		return "", err
	}

	rows, err := deps.Reservations.ListByPhone(ctx, phone)
	if err != nil {
		return "", err
	}
	for _, r := range rows {
		if strings.EqualFold(r.ID, id.String()) {
			return id.String(), nil
		}
	}
	return "", fmt.Errorf("%w: reservation %s does not belong to the verified phone number", contractx.ErrNotFound, id)
}

func updateReservationDate(ctx context.Context, deps Dependencies, req contractx.ToolRequest) (any, error) {
	id, err := ownedReservation(ctx, deps, req)
	if err != nil {
		return nil, err
	}
	date, err := dateArg(req.Args, "new_date", deps.Now())
	if err != nil {
		return nil, err
	}
	if err := deps.Reservations.UpdateDate(ctx, id, date); err != nil {
		return nil, err
	}
	return "reservation successfully updated", nil
}

func cancelReservation(ctx context.Context, deps Dependencies, req contractx.ToolRequest) (any, error) {
	id, err := ownedReservation(ctx, deps, req)
	if err != nil {
		return nil, err
	}
	if err := deps.Reservations.Cancel(ctx, id); err != nil {
		return nil, err
	}
	return "reservation successfully cancelled", nil
}
