package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opsguard/opsguard/internal/incident"
	"github.com/opsguard/opsguard/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approval() notify.Approval {
	return notify.Approval{
		IncidentID: "INC-1700000000000",
		Analysis: incident.Analysis{
			RootCause:    "disk full",
			RiskLevel:    "HIGH",
			CommandToRun: "rm /var/log/app/*.old",
			Confidence:   90,
		},
		ApproveURL:  "http://localhost:8080/webhooks/approve-fix?incidentId=INC-1700000000000",
		EscalateURL: "http://localhost:8080/webhooks/approve-fix?incidentId=INC-1700000000000&action=escalate",
	}
}

func TestWebhookPostsEmbed(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := notify.NewWebhook(srv.URL, 2*time.Second)
	require.NoError(t, w.Notify(context.Background(), approval()))

	var payload struct {
		Embeds []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Fields      []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"embeds"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Embeds, 1)
	assert.Contains(t, payload.Embeds[0].Title, "INC-1700000000000")
	assert.Contains(t, payload.Embeds[0].Description, "disk full")
	assert.Contains(t, payload.Embeds[0].Description, "action=escalate")
	require.Len(t, payload.Embeds[0].Fields, 3)
	assert.Equal(t, "Risk Level", payload.Embeds[0].Fields[1].Name)
	assert.Equal(t, "HIGH", payload.Embeds[0].Fields[1].Value)
}

func TestWebhookReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := notify.NewWebhook(srv.URL, 2*time.Second)
	err := w.Notify(context.Background(), approval())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNoopNeverFails(t *testing.T) {
	n := notify.NewNoop(slog.Default())
	require.NoError(t, n.Notify(context.Background(), approval()))
}
