package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

// runAndWait drives a pipeline run to completion and returns the board.
func runAndWait(t *testing.T, ta *testApp, projectID string, totalDuration int) map[string]interface{} {
	t.Helper()

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/pipeline/run", runRequestBody(projectID, totalDuration))
	if err != nil {
		t.Fatalf("run request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	readBody(t, resp)

	return waitForBoard(t, ta, projectID, 5*time.Second, func(b map[string]interface{}) bool {
		return b["state"] == "done"
	})
}

func selectAll(t *testing.T, ta *testApp, projectID string) {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/scenes/"+projectID+"/select-all", "")
	if err != nil {
		t.Fatalf("select-all failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)
}

func TestImageBatch_FullFlow(t *testing.T) {
	ta := setupApp(t)
	projectID := uuid.New().String()

	runAndWait(t, ta, projectID, 16) // two scenes
	selectAll(t, ta, projectID)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/"+projectID+"/images", "")
	if err != nil {
		t.Fatalf("image batch failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	body := parseJSON(t, resp)
	if body["kind"] != "image" {
		t.Errorf("expected kind 'image', got %v", body["kind"])
	}
	if body["accepted"] != float64(2) {
		t.Errorf("expected 2 accepted scenes, got %v", body["accepted"])
	}

	board := waitForBoard(t, ta, projectID, 10*time.Second, func(b map[string]interface{}) bool {
		if b["isProcessing"] == true {
			return false
		}
		scenes, _ := b["scenes"].([]interface{})
		for _, raw := range scenes {
			sc, _ := raw.(map[string]interface{})
			if sc["imageUrl"] == nil || sc["imageUrl"] == "" {
				return false
			}
		}
		return true
	})

	// Batch completion clears the selection
	selected, _ := board["selectedSceneIds"].([]interface{})
	if len(selected) != 0 {
		t.Errorf("expected empty selection after batch, got %v", selected)
	}
}

func TestVideoBatch_FullFlow(t *testing.T) {
	ta := setupApp(t)
	projectID := uuid.New().String()

	runAndWait(t, ta, projectID, 16)
	selectAll(t, ta, projectID)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/"+projectID+"/videos", "")
	if err != nil {
		t.Fatalf("video batch failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	readBody(t, resp)

	waitForBoard(t, ta, projectID, 10*time.Second, func(b map[string]interface{}) bool {
		if b["isProcessing"] == true {
			return false
		}
		scenes, _ := b["scenes"].([]interface{})
		for _, raw := range scenes {
			sc, _ := raw.(map[string]interface{})
			if sc["videoUrl"] == nil || sc["videoUrl"] == "" {
				return false
			}
		}
		return true
	})
}

func TestBatch_EmptySelection(t *testing.T) {
	ta := setupApp(t)
	projectID := uuid.New().String()

	runAndWait(t, ta, projectID, 16)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/"+projectID+"/images", "")
	if err != nil {
		t.Fatalf("image batch failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestBatch_UnknownProject(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/"+uuid.New().String()+"/images", "")
	if err != nil {
		t.Fatalf("image batch failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestSceneSelection(t *testing.T) {
	ta := setupApp(t)
	projectID := uuid.New().String()

	board := runAndWait(t, ta, projectID, 16)
	scenes, _ := board["scenes"].([]interface{})
	first, _ := scenes[0].(map[string]interface{})
	sceneID, _ := first["id"].(string)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/scenes/"+projectID+"/select",
		`{"sceneIds": ["`+sceneID+`"]}`)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	board = waitForBoard(t, ta, projectID, 2*time.Second, func(b map[string]interface{}) bool {
		selected, _ := b["selectedSceneIds"].([]interface{})
		return len(selected) == 1
	})

	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/scenes/"+projectID+"/deselect",
		`{"sceneIds": ["`+sceneID+`"]}`)
	if err != nil {
		t.Fatalf("deselect failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	waitForBoard(t, ta, projectID, 2*time.Second, func(b map[string]interface{}) bool {
		selected, _ := b["selectedSceneIds"].([]interface{})
		return len(selected) == 0
	})
}

func TestSceneUpdatePrompt(t *testing.T) {
	ta := setupApp(t)
	projectID := uuid.New().String()

	board := runAndWait(t, ta, projectID, 16)
	scenes, _ := board["scenes"].([]interface{})
	first, _ := scenes[0].(map[string]interface{})
	sceneID, _ := first["id"].(string)

	resp, err := doAuthRequest(t, ta.app, http.MethodPatch, "/api/scenes/"+projectID+"/"+sceneID+"/prompt",
		`{"prompt": "A reworked wide shot of the city at night"}`)
	if err != nil {
		t.Fatalf("prompt update failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	waitForBoard(t, ta, projectID, 2*time.Second, func(b map[string]interface{}) bool {
		scenes, _ := b["scenes"].([]interface{})
		sc, _ := scenes[0].(map[string]interface{})
		return sc["prompt"] == "A reworked wide shot of the city at night"
	})

	resp, err = doAuthRequest(t, ta.app, http.MethodPatch, "/api/scenes/"+projectID+"/"+uuid.New().String()+"/prompt",
		`{"prompt": "nope"}`)
	if err != nil {
		t.Fatalf("prompt update failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}
