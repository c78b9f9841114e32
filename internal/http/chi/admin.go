package chi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/marcelsud/webhook-dispatch/monitor"
	"github.com/marcelsud/webhook-dispatch/webhook"
)

// defaultReportRange applies when a report request omits from
const defaultReportRange = 7 * 24 * time.Hour

type bulkRetryRequest struct {
	EventIDs []string `json:"event_ids"`
}

// getDashboard handles GET /v1/admin/dashboard
func getDashboard(mon monitor.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := mon.Dashboard(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	})
}

// getReport handles GET /v1/admin/report?from=&to=
func getReport(mon monitor.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		to, err := queryTime(q.Get("to"))
		if err != nil {
			badRequest(w, "to must be an RFC3339 timestamp")
			return
		}
		from, err := queryTime(q.Get("from"))
		if err != nil {
			badRequest(w, "from must be an RFC3339 timestamp")
			return
		}
		if to.IsZero() {
			to = time.Now().UTC()
		}
		if from.IsZero() {
			from = to.Add(-defaultReportRange)
		}

		report, err := mon.Report(r.Context(), from, to)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})
}

// getFailed handles GET /v1/admin/failed?limit=
func getFailed(mon monitor.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				badRequest(w, "limit must be a positive integer")
				return
			}
			limit = n
		}

		failed, err := mon.FailedDeliveries(r.Context(), limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if failed == nil {
			failed = []monitor.FailedDelivery{}
		}
		writeJSON(w, http.StatusOK, failed)
	})
}

// postBulkRetry handles POST /v1/admin/retry
func postBulkRetry(delivery webhook.DeliveryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req bulkRetryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if len(req.EventIDs) == 0 {
			writeError(w, r, &webhook.ValidationError{Field: "event_ids", Reason: "must not be empty"})
			return
		}

		report, err := delivery.BulkRetry(r.Context(), identity(r), req.EventIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})
}

// getExport handles GET /v1/admin/export?format=csv&endpoint_id=&status=&from=&to=
func getExport(mon monitor.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		format := monitor.NewFormat(q.Get("format"))
		filter := monitor.ExportFilter{EndpointID: q.Get("endpoint_id")}

		if raw := q.Get("status"); raw != "" {
			filter.Status = webhook.NewStatus(raw)
			if err := filter.Status.Validate(); err != nil {
				badRequest(w, "status must be PENDING, DELIVERED or FAILED")
				return
			}
		}

		var err error
		if filter.From, err = queryTime(q.Get("from")); err != nil {
			badRequest(w, "from must be an RFC3339 timestamp")
			return
		}
		if filter.To, err = queryTime(q.Get("to")); err != nil {
			badRequest(w, "to must be an RFC3339 timestamp")
			return
		}

		// buffered so a failure can still be answered with a proper status
		var buf bytes.Buffer
		if err := mon.Export(r.Context(), &buf, format, filter); err != nil {
			writeError(w, r, err)
			return
		}

		name := fmt.Sprintf("events-%s.%s", time.Now().UTC().Format("20060102T150405Z"), format)
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	})
}
