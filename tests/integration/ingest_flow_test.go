package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/cadence/internal/attendance"
	"github.com/MarcoPoloResearchLab/cadence/internal/database"
	"github.com/MarcoPoloResearchLab/cadence/internal/milestone"
	"github.com/MarcoPoloResearchLab/cadence/internal/roster"
	"github.com/MarcoPoloResearchLab/cadence/internal/server"
	"github.com/MarcoPoloResearchLab/cadence/internal/streak"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ownerUserID     = "owner-1"
	signingSecret   = "integration-secret"
	channelID       = "chan-main"
	jsonContentType = "application/json"
)

func buildTestServer(testContext *testing.T) *httptest.Server {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	databasePath := filepath.Join(testContext.TempDir(), "integration.db")
	db, err := database.OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	rosterService, err := roster.NewService(roster.ServiceConfig{
		Database:        db,
		DefaultTimezone: "UTC",
		DefaultLanguage: "en",
		OwnerUserID:     ownerUserID,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build roster service: %v", err)
	}
	engine, err := streak.NewEngine(streak.EngineConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build streak engine: %v", err)
	}
	recorder, err := attendance.NewRecorder(attendance.RecorderConfig{
		Database: db,
		Roster:   rosterService,
		Streaks:  engine,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build recorder: %v", err)
	}
	queries, err := attendance.NewQueries(db)
	if err != nil {
		testContext.Fatalf("failed to build query layer: %v", err)
	}
	backfill, err := attendance.NewBackfill(attendance.BackfillConfig{
		Database:    db,
		Roster:      rosterService,
		Streaks:     engine,
		TriggerWord: "cath",
		Logger:      zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build backfill: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Roster:      rosterService,
		Recorder:    recorder,
		Queries:     queries,
		Backfill:    backfill,
		Streaks:     engine,
		Milestones:  milestone.NewDetector(milestone.DetectorConfig{}),
		Tokens:      server.NewTokenIssuer(server.TokenIssuerConfig{SigningSecret: []byte(signingSecret)}),
		TriggerWord: "cath",
		Logger:      zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return testServer
}

func postJSON(testContext *testing.T, url, token string, payload any) *http.Response {
	testContext.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		testContext.Fatalf("failed to marshal payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	return response
}

func decodeJSON(testContext *testing.T, response *http.Response, target any) {
	testContext.Helper()
	defer response.Body.Close()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
}

func TestIngestAndQueryFlow(testContext *testing.T) {
	testServer := buildTestServer(testContext)
	baseURL := testServer.URL

	// The owner obtains an admin token and registers a channel.
	tokenResponse := postJSON(testContext, baseURL+"/auth/token", "",
		map[string]string{"user_external_id": ownerUserID})
	if tokenResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 issuing token, got %d", tokenResponse.StatusCode)
	}
	var tokenPayload struct {
		AccessToken string `json:"access_token"`
	}
	decodeJSON(testContext, tokenResponse, &tokenPayload)

	registerResponse := postJSON(testContext, baseURL+"/admin/channels", tokenPayload.AccessToken,
		map[string]string{"external_id": channelID, "timezone": "UTC", "language": "en"})
	if registerResponse.StatusCode != http.StatusCreated {
		testContext.Fatalf("expected 201 registering channel, got %d", registerResponse.StatusCode)
	}
	registerResponse.Body.Close()

	// Two consecutive qualifying messages build a streak of two.
	for _, message := range []struct{ day, id string }{
		{day: "2026-03-01", id: "msg-1"},
		{day: "2026-03-02", id: "msg-2"},
	} {
		day, messageID := message.day, message.id
		ingestResponse := postJSON(testContext, baseURL+"/ingest/message", "", map[string]string{
			"channel_external_id": channelID,
			"user_external_id":    "user-a",
			"message_external_id": messageID,
			"content":             "cath",
			"occurred_at":         day + "T12:06:05Z",
		})
		if ingestResponse.StatusCode != http.StatusOK {
			testContext.Fatalf("expected 200 ingesting message, got %d", ingestResponse.StatusCode)
		}
		var ingestPayload struct {
			Recorded bool   `json:"recorded"`
			Category string `json:"category"`
		}
		decodeJSON(testContext, ingestResponse, &ingestPayload)
		if !ingestPayload.Recorded || ingestPayload.Category != "success" {
			testContext.Fatalf("expected recorded success, got %+v", ingestPayload)
		}
	}

	// Backfill an older day through the admin endpoint; the recompute
	// folds it into the same history.
	backfillResponse := postJSON(testContext, baseURL+"/admin/channels/"+channelID+"/backfill",
		tokenPayload.AccessToken, map[string]any{
			"entries": []map[string]string{{
				"event_external_id": "msg-0",
				"user_external_id":  "user-a",
				"content":           "cath",
				"occurred_at":       "2026-02-28T12:06:20Z",
			}},
		})
	if backfillResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 backfilling, got %d", backfillResponse.StatusCode)
	}
	var backfillPayload struct {
		Stored int `json:"stored"`
	}
	decodeJSON(testContext, backfillResponse, &backfillPayload)
	if backfillPayload.Stored != 1 {
		testContext.Fatalf("expected 1 stored row, got %d", backfillPayload.Stored)
	}

	statsRequest, err := http.NewRequest(http.MethodGet, baseURL+"/stats?channel="+channelID+"&user=user-a", nil)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	statsResponse, err := http.DefaultClient.Do(statsRequest)
	if err != nil {
		testContext.Fatalf("stats request failed: %v", err)
	}
	if statsResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 from stats, got %d", statsResponse.StatusCode)
	}
	var statsPayload struct {
		Counts map[string]int64 `json:"counts"`
	}
	decodeJSON(testContext, statsResponse, &statsPayload)
	if statsPayload.Counts["success"] != 3 {
		testContext.Fatalf("expected 3 successes after backfill, got %+v", statsPayload.Counts)
	}

	leaderboardRequest, err := http.NewRequest(http.MethodGet, baseURL+"/leaderboards/streak_max?channel="+channelID, nil)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	leaderboardResponse, err := http.DefaultClient.Do(leaderboardRequest)
	if err != nil {
		testContext.Fatalf("leaderboard request failed: %v", err)
	}
	if leaderboardResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 from leaderboard, got %d", leaderboardResponse.StatusCode)
	}
	var leaderboardPayload struct {
		Entries []struct {
			UserExternalID string `json:"UserExternalID"`
			Max            int    `json:"Max"`
		} `json:"entries"`
	}
	decodeJSON(testContext, leaderboardResponse, &leaderboardPayload)
	if len(leaderboardPayload.Entries) != 1 {
		testContext.Fatalf("expected one leaderboard entry, got %+v", leaderboardPayload.Entries)
	}
	if leaderboardPayload.Entries[0].Max != 3 {
		testContext.Fatalf("expected a rebuilt streak of 3, got %+v", leaderboardPayload.Entries[0])
	}

	duplicateResponse := postJSON(testContext, baseURL+"/ingest/message", "", map[string]string{
		"channel_external_id": channelID,
		"user_external_id":    "user-a",
		"message_external_id": "msg-2",
		"content":             "cath",
		"occurred_at":         "2026-03-02T12:06:05Z",
	})
	var duplicatePayload struct {
		Recorded bool `json:"recorded"`
	}
	decodeJSON(testContext, duplicateResponse, &duplicatePayload)
	if duplicatePayload.Recorded {
		testContext.Fatalf("duplicate message id must not record twice")
	}
}
