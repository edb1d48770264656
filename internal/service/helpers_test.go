package service

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"commentflow/internal/logger"
	"commentflow/internal/models"
)

// fixedNow is the clock used by every service under test
var fixedNow = time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)

// AssertNoError checks that no error occurred
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
}

// AssertError checks if error matches expected
func AssertError(t *testing.T, err error, expected string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected error %q but got nil", expected)
	}
	if err.Error() != expected {
		t.Errorf("Expected error %q but got %q", expected, err.Error())
	}
}

// AssertErrorAs checks that err wraps a target of the given type
func AssertErrorAs(t *testing.T, err error, target interface{}) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected error of type %T but got nil", target)
	}
	if !errors.As(err, target) {
		t.Fatalf("Expected error of type %T but got %T: %v", target, err, err)
	}
}

// AssertEqual checks if two values are equal
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v but got %v", want, got)
	}
}

// AssertContains checks if string contains substring
func AssertContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Errorf("Expected %q to contain %q", haystack, needle)
	}
}

// AssertCalls checks how many times a mock method was called
func AssertCalls(t *testing.T, calls map[string]int, method string, want int) {
	t.Helper()
	if calls[method] != want {
		t.Errorf("Expected %s to be called %d time(s) but got %d", method, want, calls[method])
	}
}

func newTestWorkspace(plan models.Plan) *models.Workspace {
	return &models.Workspace{
		ID:        uuid.New(),
		Name:      "Test Workspace",
		Plan:      plan,
		CreatedAt: fixedNow,
	}
}

func newTestConnection() *models.AccountConnection {
	expires := fixedNow.Add(30 * 24 * time.Hour)
	return &models.AccountConnection{
		ID:                uuid.New(),
		WorkspaceID:       uuid.New(),
		ExternalAccountID: "17841400000000001",
		Username:          "test_shop",
		Status:            models.ConnectionStatusActive,
		TokenExpiresAt:    &expires,
		CreatedAt:         fixedNow,
		UpdatedAt:         fixedNow,
	}
}

func newTestCampaign(connectionID uuid.UUID) *models.Campaign {
	return &models.Campaign{
		ID:              uuid.New(),
		ConnectionID:    connectionID,
		Name:            "Giveaway",
		MediaID:         "media-1",
		MessageTemplate: "Thanks for commenting!",
		Status:          models.CampaignStatusActive,
		MaxSendsPerHour: 10,
		CreatedAt:       fixedNow,
		UpdatedAt:       fixedNow,
	}
}

func newTestEvent() *models.CommentEvent {
	return &models.CommentEvent{
		CommentID:         "comment-1",
		Text:              "I want one!",
		CommenterID:       "user-1",
		CommenterUsername: "alice",
		MediaID:           "media-1",
		EntryID:           "17841400000000001",
	}
}

var testLogger = logger.NewNop
