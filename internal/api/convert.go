package api

import (
	"github.com/samijaber1/aegis-objectives/internal/eval"
	"github.com/samijaber1/aegis-objectives/internal/status"
)

const (
	alertStateInactive = "inactive"
	alertStateFiring   = "firing"
)

func toStatusResponse(st status.ObjectiveStatus) StatusResponse {
	b := st.Budget
	return StatusResponse{
		Availability: AvailabilityInfo{
			Percentage: b.Availability,
			Total:      b.Total,
			Errors:     b.Errors,
		},
		Budget: BudgetInfo{
			Total:            b.AllowedRatio,
			Remaining:        b.Remaining,
			RemainingClamped: eval.ClampBudget(b.Remaining),
			Max:              b.AllowedRatio * b.Total,
		},
		Alerts:      toAlertResponses(st.Alerts),
		Health:      string(st.Health.Health),
		Reasons:     st.Health.Reasons,
		Epoch:       st.Epoch,
		ActiveSince: st.ActiveSince,
		Timestamp:   st.Timestamp,
	}
}

func toAlertResponses(alerts []eval.Alert) []AlertResponse {
	out := make([]AlertResponse, len(alerts))
	for i, a := range alerts {
		state := alertStateInactive
		if a.Firing {
			state = alertStateFiring
		}
		out[i] = AlertResponse{
			Severity: string(a.Severity),
			For:      a.For.Milliseconds(),
			Factor:   a.Factor,
			Short:    toBurnRateInfo(a.Short),
			Long:     toBurnRateInfo(a.Long),
			State:    state,
		}
	}
	return out
}

func toBurnRateInfo(b eval.BurnRate) BurnRateInfo {
	return BurnRateInfo{
		Window:  b.Window.Milliseconds(),
		Current: b.Rate,
		NoData:  b.NoData,
	}
}

func toQueryRangeResponse(table status.REDTable) QueryRangeResponse {
	resp := QueryRangeResponse{
		Labels: table.Labels,
		Values: make([][]NullableFloat, len(table.Rows)),
	}
	for i, row := range table.Rows {
		values := make([]NullableFloat, 0, len(row.Values)+1)
		values = append(values, NullableFloat(row.Timestamp.Unix()))
		for _, v := range row.Values {
			values = append(values, NullableFloat(v))
		}
		resp.Values[i] = values
	}
	return resp
}
